package compaction

import (
	"errors"
	"fmt"

	cerrors "github.com/arkilian/compactor/internal/errors"
	"github.com/arkilian/compactor/pkg/types"
)

// Table names registered with the query engine.
const (
	DataFileTable             = "data_file_table"
	PositionDeleteTable       = "position_delete_table"
	EqualityDeleteTablePrefix = "equality_delete_table"
)

// EqualityDeleteGroup is a run of equality delete tasks sharing one
// equality id list. Each group is scanned as its own table.
type EqualityDeleteGroup struct {
	EqualityIDs []int
	Schema      *types.Schema
	TableName   string
	Tasks       []types.FileScanTask
}

// JoinNames returns the key columns of the group, in schema order.
func (g *EqualityDeleteGroup) JoinNames() []string {
	names := make([]string, 0, g.Schema.Len())
	for _, f := range g.Schema.Fields() {
		if types.IsHiddenColumn(f.Name) {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}

// TaskContext is everything a Processor needs to run one merge-on-read
// compaction. Each optional part can be taken once.
type TaskContext struct {
	dataFileSchema       slot[*types.Schema]
	inputSchema          slot[*types.Schema]
	dataFiles            slot[[]types.FileScanTask]
	positionDeleteFiles  slot[[]types.FileScanTask]
	equalityDeleteFiles  slot[[]types.FileScanTask]
	positionDeleteSchema slot[*types.Schema]
	equalityDeleteGroups slot[[]*EqualityDeleteGroup]

	needSeqNum         bool
	needFilePathAndPos bool
	sql                string
}

// NeedSeqNum reports whether equality deletes are present.
func (c *TaskContext) NeedSeqNum() bool { return c.needSeqNum }

// NeedFilePathAndPos reports whether position deletes are present.
func (c *TaskContext) NeedFilePathAndPos() bool { return c.needFilePathAndPos }

// SQL returns the merge-on-read query.
func (c *TaskContext) SQL() string { return c.sql }

// TakeDataFileSchema takes the augmented schema of the data file table.
func (c *TaskContext) TakeDataFileSchema() (*types.Schema, bool, error) {
	return c.dataFileSchema.take("data file schema")
}

// TakeInputSchema takes the schema of the compaction output.
func (c *TaskContext) TakeInputSchema() (*types.Schema, bool, error) {
	return c.inputSchema.take("input schema")
}

// TakeDataFiles takes the data file tasks.
func (c *TaskContext) TakeDataFiles() ([]types.FileScanTask, bool, error) {
	return c.dataFiles.take("data files")
}

// TakePositionDeleteFiles takes the position delete tasks.
func (c *TaskContext) TakePositionDeleteFiles() ([]types.FileScanTask, bool, error) {
	return c.positionDeleteFiles.take("position delete files")
}

// TakeEqualityDeleteFiles takes the equality delete tasks.
func (c *TaskContext) TakeEqualityDeleteFiles() ([]types.FileScanTask, bool, error) {
	return c.equalityDeleteFiles.take("equality delete files")
}

// TakePositionDeleteSchema takes the position delete schema, present only
// when there are position deletes.
func (c *TaskContext) TakePositionDeleteSchema() (*types.Schema, bool, error) {
	return c.positionDeleteSchema.take("position delete schema")
}

// TakeEqualityDeleteGroups takes the equality delete groups, present only
// when there are equality deletes.
func (c *TaskContext) TakeEqualityDeleteGroups() ([]*EqualityDeleteGroup, bool, error) {
	return c.equalityDeleteGroups.take("equality delete groups")
}

// Plan is a read-only view of a TaskContext that has not been consumed.
type Plan struct {
	SQL                  string
	InputSchema          *types.Schema
	DataFileSchema       *types.Schema
	PositionDeleteSchema *types.Schema
	EqualityDeleteGroups []*EqualityDeleteGroup
}

// Describe returns the derived schemas and query without consuming
// anything.
func (c *TaskContext) Describe() Plan {
	p := Plan{SQL: c.sql}
	p.InputSchema, _ = c.inputSchema.peek()
	p.DataFileSchema, _ = c.dataFileSchema.peek()
	p.PositionDeleteSchema, _ = c.positionDeleteSchema.peek()
	p.EqualityDeleteGroups, _ = c.equalityDeleteGroups.peek()
	return p
}

// TaskContextBuilder assembles a TaskContext.
type TaskContextBuilder struct {
	schema              *types.Schema
	dataFiles           []types.FileScanTask
	positionDeleteFiles []types.FileScanTask
	equalityDeleteFiles []types.FileScanTask
}

// NewTaskContextBuilder returns a builder with an empty schema and no files.
func NewTaskContextBuilder() *TaskContextBuilder {
	return &TaskContextBuilder{schema: types.EmptySchema()}
}

// WithSchema sets the table schema.
func (b *TaskContextBuilder) WithSchema(schema *types.Schema) *TaskContextBuilder {
	b.schema = schema
	return b
}

// WithDataFiles sets the data file tasks.
func (b *TaskContextBuilder) WithDataFiles(tasks []types.FileScanTask) *TaskContextBuilder {
	b.dataFiles = tasks
	return b
}

// WithPositionDeleteFiles sets the position delete tasks.
func (b *TaskContextBuilder) WithPositionDeleteFiles(tasks []types.FileScanTask) *TaskContextBuilder {
	b.positionDeleteFiles = tasks
	return b
}

// WithEqualityDeleteFiles sets the equality delete tasks. Their order
// decides how they are grouped.
func (b *TaskContextBuilder) WithEqualityDeleteFiles(tasks []types.FileScanTask) *TaskContextBuilder {
	b.equalityDeleteFiles = tasks
	return b
}

// BuildMergeOnRead derives the table schemas and the merge-on-read query.
func (b *TaskContextBuilder) BuildMergeOnRead() (*TaskContext, error) {
	if b.schema == nil {
		return nil, cerrors.NewConfigError(cerrors.CodeInvalidJob, "task context requires a schema")
	}

	positionDeleteSchema, err := buildPositionDeleteSchema()
	if err != nil {
		return nil, err
	}

	groups, err := b.groupEqualityDeletes()
	if err != nil {
		return nil, err
	}

	needFilePathAndPos := len(b.positionDeleteFiles) > 0
	needSeqNum := len(groups) > 0

	dataFileSchema, err := b.buildDataFileSchema(needSeqNum, needFilePathAndPos)
	if err != nil {
		return nil, err
	}

	sql, err := buildMergeOnReadSQL(b.schema.Names(), PositionDeleteTable, DataFileTable, groups, needFilePathAndPos)
	if err != nil {
		return nil, err
	}

	c := &TaskContext{
		dataFileSchema:      presentSlot(dataFileSchema),
		inputSchema:         presentSlot(b.schema),
		dataFiles:           presentSlot(b.dataFiles),
		positionDeleteFiles: presentSlot(b.positionDeleteFiles),
		equalityDeleteFiles: presentSlot(b.equalityDeleteFiles),
		needSeqNum:          needSeqNum,
		needFilePathAndPos:  needFilePathAndPos,
		sql:                 sql,
	}
	if needFilePathAndPos {
		c.positionDeleteSchema = presentSlot(positionDeleteSchema)
	}
	if needSeqNum {
		c.equalityDeleteGroups = presentSlot(groups)
	}
	return c, nil
}

// groupEqualityDeletes splits the equality delete tasks into runs of equal
// id lists. A list that reappears after a different one starts a new group.
// Sequence number field ids come from one counter shared by the groups of
// this build.
func (b *TaskContextBuilder) groupEqualityDeletes() ([]*EqualityDeleteGroup, error) {
	highest := b.schema.HighestFieldID()
	var groups []*EqualityDeleteGroup
	var current []int

	for _, task := range b.equalityDeleteFiles {
		if len(task.EqualityIDs) == 0 {
			return nil, cerrors.NewConfigError(cerrors.CodeInvalidJob,
				fmt.Sprintf("equality delete file %s has no equality ids", task.DataFilePath))
		}
		if current == nil || !types.SameEqualityIDs(current, task.EqualityIDs) {
			schema, err := b.buildEqualityDeleteSchema(task.EqualityIDs, &highest)
			if err != nil {
				return nil, err
			}
			ids := append([]int{}, task.EqualityIDs...)
			groups = append(groups, &EqualityDeleteGroup{
				EqualityIDs: ids,
				Schema:      schema,
				TableName:   fmt.Sprintf("%s_%d", EqualityDeleteTablePrefix, len(groups)),
			})
			current = ids
		}
		last := groups[len(groups)-1]
		last.Tasks = append(last.Tasks, task)
	}
	return groups, nil
}

// buildEqualityDeleteSchema resolves ids against the base schema and appends
// a sequence number field with the next id from highest.
func (b *TaskContextBuilder) buildEqualityDeleteSchema(ids []int, highest *int) (*types.Schema, error) {
	fields := make([]types.Field, 0, len(ids)+1)
	for _, id := range ids {
		f, ok := b.schema.FieldByID(id)
		if !ok {
			return nil, cerrors.NewConfigError(cerrors.CodeUnresolvedField,
				fmt.Sprintf("equality id %d not found in schema", id))
		}
		fields = append(fields, f)
	}
	*highest++
	fields = append(fields, types.NewRequiredField(*highest, types.SysHiddenSeqNum, types.TypeLong))

	s, err := types.NewSchemaBuilder().WithFields(fields...).Build()
	if err != nil {
		return nil, schemaError("equality delete schema", err)
	}
	return s, nil
}

// buildDataFileSchema appends the hidden columns the deletes need. Ids are
// taken from the base schema's highest id, independent of the equality
// delete schemas.
func (b *TaskContextBuilder) buildDataFileSchema(needSeqNum, needFilePathAndPos bool) (*types.Schema, error) {
	highest := b.schema.HighestFieldID()
	builder := b.schema.Builder()
	if needSeqNum {
		builder.WithFields(types.NewRequiredField(highest+1, types.SysHiddenSeqNum, types.TypeLong))
	}
	if needFilePathAndPos {
		builder.WithFields(
			types.NewRequiredField(highest+2, types.SysHiddenFilePath, types.TypeString),
			types.NewRequiredField(highest+3, types.SysHiddenPos, types.TypeLong),
		)
	}
	s, err := builder.Build()
	if err != nil {
		return nil, schemaError("data file schema", err)
	}
	return s, nil
}

func buildPositionDeleteSchema() (*types.Schema, error) {
	s, err := types.NewSchemaBuilder().WithFields(
		types.NewRequiredField(1, types.SysHiddenFilePath, types.TypeString),
		types.NewRequiredField(2, types.SysHiddenPos, types.TypeLong),
	).Build()
	if err != nil {
		return nil, schemaError("position delete schema", err)
	}
	return s, nil
}

func schemaError(what string, err error) error {
	code := cerrors.CodeInvalidField
	switch {
	case errors.Is(err, types.ErrDuplicateFieldID):
		code = cerrors.CodeDuplicateFieldID
	case errors.Is(err, types.ErrDuplicateFieldName):
		code = cerrors.CodeDuplicateFieldName
	}
	return cerrors.NewSchemaError(code, "failed to build "+what, err)
}
