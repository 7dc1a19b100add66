package pipeline

import "fmt"

// Stage is a step of the per-image state machine.
type Stage int

const (
	StagePending Stage = iota
	StageLoad
	StageSegment
	StageClassify
	StageUpscale
	StageDecompose
	StageAnnotate
	StageExport
	StageDone
)

var stageNames = [...]string{
	StagePending:   "pending",
	StageLoad:      "load",
	StageSegment:   "segment",
	StageClassify:  "classify",
	StageUpscale:   "upscale",
	StageDecompose: "decompose",
	StageAnnotate:  "annotate",
	StageExport:    "export",
	StageDone:      "done",
}

var stagePercents = [...]int{
	StagePending:   0,
	StageLoad:      10,
	StageSegment:   30,
	StageClassify:  50,
	StageUpscale:   70,
	StageDecompose: 85,
	StageAnnotate:  95,
	StageExport:    100,
	StageDone:      100,
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Percent is the progress reported when the stage starts.
func (s Stage) Percent() int {
	if s < 0 || int(s) >= len(stagePercents) {
		return 0
	}
	return stagePercents[s]
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a stage name.
func (s *Stage) UnmarshalText(text []byte) error {
	for i, n := range stageNames {
		if n == string(text) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", text)
}
