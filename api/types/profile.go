package types

// Profile is a tracked Twitter account. The numeric UserID is the stable
// identity; the username can change over time and is re-synced opportunistically.
type Profile struct {
	UserID         int64  `json:"user_id"`
	Username       string `json:"username"`
	JoinedDate     Date   `json:"joined_date"`
	Enabled        bool   `json:"enabled"`
	ArchiveEnabled bool   `json:"archive_enabled"`

	// LastScanDate is the checkpoint up to which the profile has been fully
	// scanned. Nil until the first scan round has been scheduled. Only ever
	// advances forward.
	LastScanDate *Date `json:"last_scan_date,omitempty"`
}

// ScanStart returns the date from which a new scan round should start:
// the checkpoint when one exists, the join date otherwise.
func (p Profile) ScanStart() Date {
	if p.LastScanDate != nil {
		return *p.LastScanDate
	}
	return p.JoinedDate
}
