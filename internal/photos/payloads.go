package photos

// DerivativesPayload is the generate-derivatives job body.
type DerivativesPayload struct {
	PhotoID    string `json:"photoId"`
	ProtocolID string `json:"protocolId"`
}

// ManifestPayload is the generate-manifest job body. An empty PhotoIDs list
// means every completed photo of the protocol.
type ManifestPayload struct {
	ProtocolID string   `json:"protocolId"`
	PhotoIDs   []string `json:"photoIds,omitempty"`
}
