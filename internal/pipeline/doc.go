// Package pipeline drives the multi-step generation workflow for a project.
// Steps run strictly in catalog order, one at a time, with every transition
// persisted before the next step begins so a restart resumes exactly where the
// previous process stopped. A step failure halts the run; later steps stay
// pending for that workflow id.
package pipeline
