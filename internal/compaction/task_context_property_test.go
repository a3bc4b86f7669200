package compaction

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/arkilian/compactor/pkg/types"
)

// propertySchema has fields c1..cN with ids 1..N.
func propertySchema(n int) *types.Schema {
	fields := make([]types.Field, n)
	for i := range fields {
		fields[i] = types.NewOptionalField(i+1, fmt.Sprintf("c%d", i+1), types.TypeLong)
	}
	s, err := types.NewSchemaBuilder().WithFields(fields...).Build()
	if err != nil {
		panic(err)
	}
	return s
}

// keySets are the equality id lists the generators pick from.
var keySets = [][]int{{1}, {2}, {1, 2}, {3}, {2, 3}}

// TestProperty_NoDeletesIsPlainSelect: without delete files the query is a
// plain projection and the data file schema is the base schema.
func TestProperty_NoDeletesIsPlainSelect(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("no deletes means no joins and no hidden columns", prop.ForAll(
		func(width, files int) bool {
			base := propertySchema(width)
			tasks := make([]types.FileScanTask, files)
			for i := range tasks {
				tasks[i] = dataTask(fmt.Sprintf("data-%d", i))
			}

			c, err := NewTaskContextBuilder().WithSchema(base).WithDataFiles(tasks).BuildMergeOnRead()
			if err != nil {
				return false
			}
			want := "SELECT " + strings.Join(base.Names(), ",") + " FROM data_file_table"
			if c.SQL() != want {
				return false
			}
			dataSchema, ok, err := c.TakeDataFileSchema()
			return err == nil && ok && dataSchema.Equal(base)
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}

// TestProperty_EqualityGrouping: groups are the maximal runs of equal id
// lists, in input order, with sequential table names.
func TestProperty_EqualityGrouping(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("groups are consecutive runs", prop.ForAll(
		func(picks []int) bool {
			tasks := make([]types.FileScanTask, len(picks))
			runs := 0
			for i, p := range picks {
				tasks[i] = eqDeleteTask(fmt.Sprintf("eq-%d", i), keySets[p]...)
				if i == 0 || picks[i-1] != p {
					runs++
				}
			}

			base := propertySchema(3)
			c, err := NewTaskContextBuilder().WithSchema(base).WithEqualityDeleteFiles(tasks).BuildMergeOnRead()
			if err != nil {
				return false
			}
			groups, ok, err := c.TakeEqualityDeleteGroups()
			if err != nil || ok != (len(picks) > 0) || len(groups) != runs {
				return false
			}

			next := 0
			for gi, g := range groups {
				if g.TableName != fmt.Sprintf("equality_delete_table_%d", gi) {
					return false
				}
				// Sequence ids continue from the base schema's highest id.
				seq, ok := g.Schema.FieldByName(types.SysHiddenSeqNum)
				if !ok || seq.ID != base.HighestFieldID()+gi+1 {
					return false
				}
				if len(g.Tasks) == 0 {
					return false
				}
				for _, task := range g.Tasks {
					if task.DataFilePath != tasks[next].DataFilePath || !types.SameEqualityIDs(task.EqualityIDs, g.EqualityIDs) {
						return false
					}
					next++
				}
				if gi > 0 && types.SameEqualityIDs(groups[gi-1].EqualityIDs, g.EqualityIDs) {
					return false
				}
			}
			return next == len(tasks)
		},
		gen.SliceOf(gen.IntRange(0, len(keySets)-1)),
	))

	properties.TestingRun(t)
}

// TestProperty_EqualityJoinsAreSequenceGated: every equality group
// contributes one anti join ending in a strict sequence comparison, after
// the position delete join.
func TestProperty_EqualityJoinsAreSequenceGated(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("one gated anti join per group", prop.ForAll(
		func(picks []int, withPositionDeletes bool) bool {
			tasks := make([]types.FileScanTask, len(picks))
			for i, p := range picks {
				tasks[i] = eqDeleteTask(fmt.Sprintf("eq-%d", i), keySets[p]...)
			}
			b := NewTaskContextBuilder().WithSchema(propertySchema(3)).WithEqualityDeleteFiles(tasks)
			if withPositionDeletes {
				b.WithPositionDeleteFiles([]types.FileScanTask{posDeleteTask("pos")})
			}
			c, err := b.BuildMergeOnRead()
			if err != nil {
				return false
			}
			groups, _, err := c.TakeEqualityDeleteGroups()
			if err != nil {
				return false
			}

			sql := c.SQL()
			if strings.Count(sql, " LEFT ANTI JOIN ") != len(groups)+boolToInt(withPositionDeletes) {
				return false
			}
			if strings.Contains(sql, "<=") {
				return false
			}
			last := -1
			if withPositionDeletes {
				last = strings.Index(sql, " LEFT ANTI JOIN position_delete_table ON ")
				if last < 0 {
					return false
				}
			}
			for _, g := range groups {
				clause := " LEFT ANTI JOIN " + g.TableName + " ON "
				at := strings.Index(sql, clause)
				if at <= last {
					return false
				}
				gate := "data_file_table.sys_hidden_seq_num < " + g.TableName + ".sys_hidden_seq_num"
				if !strings.Contains(sql[at:], gate) {
					return false
				}
				for _, name := range g.JoinNames() {
					if !strings.Contains(sql[at:], "data_file_table."+name+" = "+g.TableName+"."+name) {
						return false
					}
				}
				last = at
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(keySets)-1)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
