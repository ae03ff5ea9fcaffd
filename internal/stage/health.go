package stage

// Health is one job type's entry in the daemon status report.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy marks a job type that cannot take work; detail names the missing
// dependency.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}

// Named fills in the job type for handlers that left Name empty.
func (h Health) Named(jobType string) Health {
	if h.Name == "" {
		h.Name = jobType
	}
	return h
}

func (h Health) String() string {
	if h.Ready {
		return h.Name + ": ready"
	}
	if h.Detail == "" {
		return h.Name + ": not ready"
	}
	return h.Name + ": " + h.Detail
}
