package command

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/vkngwrapper/retrofit/gpu"
)

// BuildStatsString writes a JSON snapshot of the pool for diagnostics.
func (p *Pool) BuildStatsString(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	obj.Name("RingSize").Int(p.ringSize)
	obj.Name("RingIndex").Int(p.ringIndex)
	obj.Name("ListsCreated").Int(int(p.created.Load()))
	obj.Name("ListsRecycled").Int(int(p.recycled.Load()))
	obj.Name("Submissions").Int(int(p.submissions.Load()))
	obj.Name("SubmissionFailures").Int(int(p.submissionFailures.Load()))
	obj.Name("InFlight").Int(p.InFlightCount())

	free := obj.Name("FreeByType").Object()
	for listType := 0; listType < gpu.ListTypeCount; listType++ {
		free.Name(gpu.ListType(listType).String()).Int(len(p.free[listType]))
	}
	free.End()
}
