package qa

import "github.com/poiesic/blueprint/core"

// Monitor observes the stages of answering one question.
type Monitor interface {
	Start(req Request)
	AfterRetrieval(matches []core.ChunkMatch)
	BeforeGeneration(context string)
	Finish(answer *Answer)
}

type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (noopMonitor) Start(_ Request)                   {}
func (noopMonitor) AfterRetrieval(_ []core.ChunkMatch) {}
func (noopMonitor) BeforeGeneration(_ string)         {}
func (noopMonitor) Finish(_ *Answer)                  {}
