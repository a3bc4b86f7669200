// Package manifest describes compaction jobs and records their runs.
//
// A job is the unit handed to the compactor by upstream planning: the table
// schema, the destination partition spec and the data, position delete and
// equality delete scan tasks to merge.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cerrors "github.com/arkilian/compactor/internal/errors"
	"github.com/arkilian/compactor/internal/compaction"
	"github.com/arkilian/compactor/pkg/types"
	"gopkg.in/yaml.v3"
)

// Supported job document formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Job is one merge-on-read compaction request.
type Job struct {
	// Name identifies the job in logs and the run ledger
	Name string `json:"name" yaml:"name"`

	// Fields is the logical table schema, in column order
	Fields []types.Field `json:"schema" yaml:"schema"`

	// Partition is the destination partition spec (nil = unpartitioned)
	Partition *types.PartitionSpec `json:"partition_spec,omitempty" yaml:"partition_spec,omitempty"`

	// TargetPartitions overrides engine.target_partitions when positive
	TargetPartitions int `json:"target_partitions,omitempty" yaml:"target_partitions,omitempty"`

	// BatchParallelism overrides engine.batch_parallelism when positive
	BatchParallelism int `json:"batch_parallelism,omitempty" yaml:"batch_parallelism,omitempty"`

	DataFiles           []types.FileScanTask `json:"data_files" yaml:"data_files"`
	PositionDeleteFiles []types.FileScanTask `json:"position_delete_files,omitempty" yaml:"position_delete_files,omitempty"`
	EqualityDeleteFiles []types.FileScanTask `json:"equality_delete_files,omitempty" yaml:"equality_delete_files,omitempty"`
}

// Load reads a job from a YAML or JSON file. The format follows the file
// extension; anything other than .json is read as YAML.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCategoryConfiguration, cerrors.CodeInvalidJob,
			fmt.Sprintf("failed to read job file %s", path), err)
	}

	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}
	return Parse(data, format)
}

// Parse decodes a job document and validates it.
func Parse(data []byte, format string) (*Job, error) {
	var job Job
	switch strings.ToLower(format) {
	case FormatYAML, "yml":
		if err := yaml.Unmarshal(data, &job); err != nil {
			return nil, cerrors.Wrap(cerrors.ErrCategoryConfiguration, cerrors.CodeInvalidJob,
				"failed to parse YAML job", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, cerrors.Wrap(cerrors.ErrCategoryConfiguration, cerrors.CodeInvalidJob,
				"failed to parse JSON job", err)
		}
	default:
		return nil, cerrors.NewConfigError(cerrors.CodeInvalidJob,
			fmt.Sprintf("unsupported job format: %s", format))
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Validate checks the job for structural errors. Partition source ids are
// resolved later, when the output is partitioned.
func (j *Job) Validate() error {
	if len(j.Fields) == 0 {
		return invalidJob("job has no schema fields")
	}
	if _, err := j.Schema(); err != nil {
		return err
	}
	if j.TargetPartitions < 0 {
		return invalidJob(fmt.Sprintf("target_partitions must not be negative, got %d", j.TargetPartitions))
	}
	if j.BatchParallelism < 0 {
		return invalidJob(fmt.Sprintf("batch_parallelism must not be negative, got %d", j.BatchParallelism))
	}

	if err := validateTasks("data_files", j.DataFiles, types.ContentData); err != nil {
		return err
	}
	if err := validateTasks("position_delete_files", j.PositionDeleteFiles, types.ContentPositionDeletes); err != nil {
		return err
	}
	if err := validateTasks("equality_delete_files", j.EqualityDeleteFiles, types.ContentEqualityDeletes); err != nil {
		return err
	}
	return nil
}

func validateTasks(list string, tasks []types.FileScanTask, want types.FileContent) error {
	for i, t := range tasks {
		if t.DataFilePath == "" {
			return invalidJob(fmt.Sprintf("%s[%d]: data_file_path is required", list, i))
		}
		if t.Content != "" && t.Content != want {
			return invalidJob(fmt.Sprintf("%s[%d]: content %q, expected %q", list, i, t.Content, want))
		}
		if t.Start < 0 || t.Length < 0 {
			return invalidJob(fmt.Sprintf("%s[%d]: start and length must not be negative", list, i))
		}
		if want == types.ContentEqualityDeletes && len(t.EqualityIDs) == 0 {
			return invalidJob(fmt.Sprintf("%s[%d]: equality_ids are required", list, i))
		}
	}
	return nil
}

// Schema builds the logical schema of the job.
func (j *Job) Schema() (*types.Schema, error) {
	schema, err := types.NewSchemaBuilder().WithFields(j.Fields...).Build()
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCategoryConfiguration, cerrors.CodeInvalidJob,
			"invalid job schema", err)
	}
	return schema, nil
}

// PartitionSpec returns the destination spec, unpartitioned when unset.
func (j *Job) PartitionSpec() *types.PartitionSpec {
	if j.Partition == nil {
		return types.UnpartitionedSpec()
	}
	return j.Partition
}

// Tasks returns copies of the three task lists with Content filled in.
func (j *Job) Tasks() (data, positionDeletes, equalityDeletes []types.FileScanTask) {
	return withContent(j.DataFiles, types.ContentData),
		withContent(j.PositionDeleteFiles, types.ContentPositionDeletes),
		withContent(j.EqualityDeleteFiles, types.ContentEqualityDeletes)
}

// Locations returns every distinct file location the job reads, in task
// order.
func (j *Job) Locations() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]types.FileScanTask{j.DataFiles, j.PositionDeleteFiles, j.EqualityDeleteFiles} {
		for _, t := range list {
			if _, ok := seen[t.DataFilePath]; ok {
				continue
			}
			seen[t.DataFilePath] = struct{}{}
			out = append(out, t.DataFilePath)
		}
	}
	return out
}

func withContent(tasks []types.FileScanTask, content types.FileContent) []types.FileScanTask {
	if len(tasks) == 0 {
		return nil
	}
	out := make([]types.FileScanTask, len(tasks))
	for i, t := range tasks {
		t.Content = content
		out[i] = t
	}
	return out
}

// BuildTaskContext runs the merge-on-read task context builder over the job.
func (j *Job) BuildTaskContext() (*compaction.TaskContext, error) {
	schema, err := j.Schema()
	if err != nil {
		return nil, err
	}
	data, pos, eq := j.Tasks()
	return compaction.NewTaskContextBuilder().
		WithSchema(schema).
		WithDataFiles(data).
		WithPositionDeleteFiles(pos).
		WithEqualityDeleteFiles(eq).
		BuildMergeOnRead()
}

func invalidJob(msg string) error {
	return cerrors.NewConfigError(cerrors.CodeInvalidJob, msg)
}
