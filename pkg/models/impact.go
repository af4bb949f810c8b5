package models

// ============================================================================
// Pipeline Stages
// ============================================================================

// Stage identifies one externally-executed pipeline stage.
type Stage string

const (
	StageDocumentAnalysis    Stage = "DocumentAnalysis"
	StageInterestComputation Stage = "InterestComputation"
	StageReportGeneration    Stage = "ReportGeneration"
)

// StageOrder defines the execution order for each stage.
var StageOrder = map[Stage]int{
	StageDocumentAnalysis:    1,
	StageInterestComputation: 2,
	StageReportGeneration:    3,
}

// AllStages returns all pipeline stages in execution order.
func AllStages() []Stage {
	return []Stage{
		StageDocumentAnalysis,
		StageInterestComputation,
		StageReportGeneration,
	}
}

// IsValidStage checks if the given stage is known.
func IsValidStage(s Stage) bool {
	_, ok := StageOrder[s]
	return ok
}

// ============================================================================
// Impact Descriptor
// ============================================================================

// WildcardAll marks an impact entry as covering the whole universe of its
// kind (every item category or every report section).
const WildcardAll = "ALL"

// ImpactDescriptor is the static mapping from one field to the pipeline
// stages, domain-item categories, and report sections its change affects.
// Category and section sets may contain WildcardAll.
type ImpactDescriptor struct {
	Stages     []Stage  `yaml:"stages"`
	Categories []string `yaml:"categories"`
	Sections   []string `yaml:"sections"`
}

// Impact is a resolved affected set, with wildcards already expanded and
// section closure applied where required.
type Impact struct {
	Stages     []Stage  `json:"stages"`
	Categories []string `json:"categories"`
	Sections   []string `json:"sections"`
}

// ContainsStage reports whether the impact covers the given stage.
func (i Impact) ContainsStage(stage Stage) bool {
	for _, s := range i.Stages {
		if s == stage {
			return true
		}
	}
	return false
}
