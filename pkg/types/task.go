package types

// FileContent classifies the file referenced by a scan task.
type FileContent string

const (
	ContentData            FileContent = "data"
	ContentPositionDeletes FileContent = "position_deletes"
	ContentEqualityDeletes FileContent = "equality_deletes"
)

// FileScanTask describes one physical file (or a split of it) to be scanned.
type FileScanTask struct {
	// DataFilePath is the object location of the file
	DataFilePath string `json:"data_file_path" yaml:"data_file_path"`

	// Start is the first row of the split
	Start int64 `json:"start" yaml:"start"`

	// Length is the number of rows in the split; 0 reads to the end of the file
	Length int64 `json:"length" yaml:"length"`

	// RecordCount is the number of rows in the whole file, if known
	RecordCount int64 `json:"record_count" yaml:"record_count"`

	// FileSizeBytes is the size of the file, if known
	FileSizeBytes int64 `json:"file_size_bytes" yaml:"file_size_bytes"`

	// SequenceNumber is the data sequence number of the file
	SequenceNumber int64 `json:"sequence_number" yaml:"sequence_number"`

	// Content is the kind of file
	Content FileContent `json:"content" yaml:"content"`

	// EqualityIDs are the field ids forming the delete key (equality deletes only)
	EqualityIDs []int `json:"equality_ids,omitempty" yaml:"equality_ids,omitempty"`
}

// SameEqualityIDs reports whether two equality id lists are identical, order included.
func SameEqualityIDs(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
