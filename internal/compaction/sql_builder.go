package compaction

import (
	"strings"

	cerrors "github.com/arkilian/compactor/internal/errors"
	"github.com/arkilian/compactor/pkg/types"
)

// buildMergeOnReadSQL renders the query that reads the data file table and
// drops every row removed by a position or equality delete. An equality
// delete only removes rows with a smaller sequence number than its own.
func buildMergeOnReadSQL(projection []string, positionDeleteTable, dataFileTable string, groups []*EqualityDeleteGroup, needFilePathAndPos bool) (string, error) {
	if dataFileTable == "" {
		return "", cerrors.NewConfigError(cerrors.CodeMissingTableName, "data file table name is not provided")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(projection, ","))
	sb.WriteString(" FROM ")
	sb.WriteString(dataFileTable)

	if needFilePathAndPos {
		if positionDeleteTable == "" {
			return "", cerrors.NewConfigError(cerrors.CodeMissingTableName, "position delete table name is not provided")
		}
		sb.WriteString(" LEFT ANTI JOIN ")
		sb.WriteString(positionDeleteTable)
		sb.WriteString(" ON ")
		writeColumnEq(&sb, dataFileTable, positionDeleteTable, types.SysHiddenFilePath)
		sb.WriteString(" AND ")
		writeColumnEq(&sb, dataFileTable, positionDeleteTable, types.SysHiddenPos)
	}

	for _, g := range groups {
		sb.WriteString(" LEFT ANTI JOIN ")
		sb.WriteString(g.TableName)
		sb.WriteString(" ON ")
		for i, name := range g.JoinNames() {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			writeColumnEq(&sb, dataFileTable, g.TableName, name)
		}
		sb.WriteString(" AND ")
		sb.WriteString(dataFileTable + "." + types.SysHiddenSeqNum)
		sb.WriteString(" < ")
		sb.WriteString(g.TableName + "." + types.SysHiddenSeqNum)
	}

	return sb.String(), nil
}

func writeColumnEq(sb *strings.Builder, left, right, column string) {
	sb.WriteString(left + "." + column)
	sb.WriteString(" = ")
	sb.WriteString(right + "." + column)
}
