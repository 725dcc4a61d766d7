package database

import (
	"encoding/json"
	"fmt"

	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// jobDocuments holds the JSON encoded columns of an export job row
type jobDocuments struct {
	timeline []byte
	settings []byte
	output   []byte
	options  []byte
	result   []byte
}

func encodeJob(job *models.ExportJob) (jobDocuments, error) {
	var docs jobDocuments
	var err error

	if job.Timeline != nil {
		if docs.timeline, err = json.Marshal(job.Timeline); err != nil {
			return docs, fmt.Errorf("marshal timeline ref: %w", err)
		}
	}
	settings := job.Settings
	if settings.SchemaVersion == 0 {
		settings.SchemaVersion = models.CurrentSettingsVersion
	}
	if docs.settings, err = json.Marshal(settings); err != nil {
		return docs, fmt.Errorf("marshal settings: %w", err)
	}
	if docs.output, err = json.Marshal(job.Output); err != nil {
		return docs, fmt.Errorf("marshal output: %w", err)
	}
	if docs.options, err = json.Marshal(job.Options); err != nil {
		return docs, fmt.Errorf("marshal options: %w", err)
	}
	if job.Result != nil {
		if docs.result, err = json.Marshal(job.Result); err != nil {
			return docs, fmt.Errorf("marshal result: %w", err)
		}
	}
	return docs, nil
}

func decodeJob(job *models.ExportJob, docs jobDocuments) error {
	if len(docs.timeline) > 0 {
		job.Timeline = &models.TimelineRef{}
		if err := json.Unmarshal(docs.timeline, job.Timeline); err != nil {
			return fmt.Errorf("job %s: decode timeline ref: %w", job.ID, err)
		}
	}
	// settings from a newer schema fail here rather than being misread
	if err := json.Unmarshal(docs.settings, &job.Settings); err != nil {
		return fmt.Errorf("job %s: decode settings: %w", job.ID, err)
	}
	if err := json.Unmarshal(docs.output, &job.Output); err != nil {
		return fmt.Errorf("job %s: decode output: %w", job.ID, err)
	}
	if err := json.Unmarshal(docs.options, &job.Options); err != nil {
		return fmt.Errorf("job %s: decode options: %w", job.ID, err)
	}
	if len(docs.result) > 0 {
		job.Result = &models.JobResult{}
		if err := json.Unmarshal(docs.result, job.Result); err != nil {
			return fmt.Errorf("job %s: decode result: %w", job.ID, err)
		}
	}
	return nil
}
