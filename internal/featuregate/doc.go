// Package featuregate decides whether a rollout flag is on for a subject.
//
// A flag is off when missing, disabled, or outside its window. Subjects on
// the allow list are always on; everyone else is bucketed by a stable hash
// of the subject id so a percentage rollout gives the same answer on every
// request. The Gate is an explicit value owned by its caller.
package featuregate
