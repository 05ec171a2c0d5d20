package domain

import "time"

// ReportArtifact is the set of rendered files for one run.
type ReportArtifact struct {
	Dir             string
	HTMLPath        string
	SpreadsheetPath string
	ReadmePath      string
}

// Files lists every rendered file path.
func (a ReportArtifact) Files() []string {
	files := make([]string, 0, 3)
	for _, p := range []string{a.HTMLPath, a.SpreadsheetPath, a.ReadmePath} {
		if p != "" {
			files = append(files, p)
		}
	}
	return files
}

// ArchiveRecord describes the packaged output of a run.
type ArchiveRecord struct {
	Name        string
	Path        string
	Size        int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RunID       string
	SeedAccount string
}

// DeliveryAttempt records one notification attempt.
type DeliveryAttempt struct {
	Channel   string
	Recipient string
	Success   bool
	Reason    string
	Err       error
	At        time.Time
}
