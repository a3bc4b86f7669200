// Package types provides the value types shared by the compactor packages:
// schemas, partition specs, file scan tasks and the reserved hidden columns.
package types

// Hidden column names. They exist only while compacting, to correlate data
// rows with the deletes that may remove them, and never reach the output.
const (
	SysHiddenSeqNum   = "sys_hidden_seq_num"
	SysHiddenFilePath = "sys_hidden_file_path"
	SysHiddenPos      = "sys_hidden_pos"
)

var hiddenColumns = [...]string{SysHiddenSeqNum, SysHiddenFilePath, SysHiddenPos}

// HiddenColumns returns the three reserved hidden column names.
func HiddenColumns() []string {
	return hiddenColumns[:]
}

// IsHiddenColumn reports whether name is one of the reserved hidden columns.
func IsHiddenColumn(name string) bool {
	for _, h := range hiddenColumns {
		if h == name {
			return true
		}
	}
	return false
}
