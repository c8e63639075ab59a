package domain

import (
	"fmt"
	"strings"
	"time"
)

// Stage enumerates the lifecycle of a recipe job.
type Stage string

const (
	StagePending          Stage = "pending"
	StageGeneratingRecipe Stage = "generating_recipe"
	StageGeneratingImage  Stage = "generating_image"
	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
)

var stageTransitions = map[Stage][]Stage{
	StagePending:          {StageGeneratingRecipe, StageFailed},
	StageGeneratingRecipe: {StageGeneratingImage, StageFailed},
	StageGeneratingImage:  {StageCompleted, StageFailed},
}

// JobExecution is one run of the two-stage workflow for a single request.
// It is owned by the engine run executing it and is never shared.
type JobExecution struct {
	ID           string
	ConnectionID string
	Ingredients  IngredientList
	Locale       string
	Stage        Stage
	StartedAt    time.Time
	Err          error

	recipe strings.Builder
}

// NewJobExecution returns a job in the pending stage.
func NewJobExecution(id, connectionID string, ingredients IngredientList, locale string) *JobExecution {
	return &JobExecution{
		ID:           id,
		ConnectionID: connectionID,
		Ingredients:  ingredients,
		Locale:       locale,
		Stage:        StagePending,
		StartedAt:    time.Now().UTC(),
	}
}

// Advance moves the job to the next stage, rejecting transitions the workflow does not allow.
func (j *JobExecution) Advance(to Stage) error {
	for _, allowed := range stageTransitions[j.Stage] {
		if allowed == to {
			j.Stage = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStage, j.Stage, to)
}

// Fail records err and moves the job to the failed stage.
func (j *JobExecution) Fail(err error) {
	if j.Terminal() {
		return
	}
	j.Err = err
	j.Stage = StageFailed
}

// AppendRecipe extends the accumulated recipe text.
func (j *JobExecution) AppendRecipe(chunk string) { j.recipe.WriteString(chunk) }

func (j *JobExecution) RecipeText() string { return j.recipe.String() }

func (j *JobExecution) Terminal() bool {
	return j.Stage == StageCompleted || j.Stage == StageFailed
}

// JobRequest is the wire form of a job handed from the gateway to a worker.
type JobRequest struct {
	JobID        string   `json:"job_id"`
	ConnectionID string   `json:"connection_id"`
	Ingredients  []string `json:"ingredients"`
	Locale       string   `json:"locale,omitempty"`
}

// Request converts the job into its dispatch form.
func (j *JobExecution) Request() JobRequest {
	return JobRequest{
		JobID:        j.ID,
		ConnectionID: j.ConnectionID,
		Ingredients:  j.Ingredients.Items(),
		Locale:       j.Locale,
	}
}

// Execution rebuilds a pending job from its dispatch form.
func (r JobRequest) Execution(maxChars int) (*JobExecution, error) {
	if r.JobID == "" || r.ConnectionID == "" {
		return nil, NewValidationError("job", "job and connection ids are required")
	}
	list, err := ParseIngredients(strings.Join(r.Ingredients, "\n"), maxChars)
	if err != nil {
		return nil, err
	}
	return NewJobExecution(r.JobID, r.ConnectionID, list, r.Locale), nil
}
