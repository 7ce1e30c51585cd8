package respond

import "github.com/poiesic/tonerag/core"

// Monitor observes the stages of a single Respond call.
type Monitor interface {
	Start(req Request)
	AfterRetrieval(results []*core.SearchResult)
	AfterCompletion(raw string, err error)
	Finish(resp *Response)
}

type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Request)                       {}
func (n *noopMonitor) AfterRetrieval(_ []*core.SearchResult) {}
func (n *noopMonitor) AfterCompletion(_ string, _ error)     {}
func (n *noopMonitor) Finish(_ *Response)                    {}
