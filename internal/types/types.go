package types

// LocalID identifies a record within one client's local store. Local ids are
// never reused and never leave the client except inside upload batches, where
// the server echoes them back in receipts.
type LocalID int64

// ServerID identifies a record in the authoritative server store. Zero means
// "not yet assigned", i.e. the record has not completed its first round trip.
type ServerID int64

// DirtyState tracks a record's position in the upload lifecycle.
//
// A record is clean (0), locally modified (the Dirty bit), or included in an
// in-flight upload (the SyncPending bit). Marking a record dirty while an
// upload is in flight yields Dirty|SyncPending, so a receipt for the stale
// upload clears only the pending bit and the newer edit is pushed again.
type DirtyState uint8

const (
	Clean       DirtyState = 0
	Dirty       DirtyState = 1
	SyncPending DirtyState = 2
)

// MarkDirty records a local modification that still needs to reach the server.
func (d *DirtyState) MarkDirty() {
	*d |= Dirty
}

// MarkSyncPending moves the record into the in-flight state, dropping any
// dirty bit. Called when the record is packed into an upload batch.
func (d *DirtyState) MarkSyncPending() {
	*d = SyncPending
}

// MarkSyncDone clears the pending bit after a receipt arrives. A dirty bit
// set while the upload was in flight survives.
func (d *DirtyState) MarkSyncDone() {
	*d &^= SyncPending
}

// IsDirty reports whether the record still needs server attention, either
// because of a local edit or an unacknowledged upload.
func (d DirtyState) IsDirty() bool {
	return d != Clean
}

// Vineyard is the wire form of a producer record. LocalID is only populated
// in upload batches; downloads carry a ServerID instead.
type Vineyard struct {
	LocalID  LocalID  `json:"local_id,omitempty"`
	ServerID ServerID `json:"server_id"`
	Name     string   `json:"name"`
	Region   string   `json:"region"`
	Country  string   `json:"country"`
	Website  string   `json:"website"`
	Address  string   `json:"address"`
	Comment  string   `json:"comment"`
	Deleted  bool     `json:"deleted,omitempty"`
}

// Wine is the wire form of a wine record. VineyardID always refers to the
// parent's server id; a wine is only uploadable once its parent has one.
type Wine struct {
	LocalID    LocalID  `json:"local_id,omitempty"`
	ServerID   ServerID `json:"server_id"`
	VineyardID ServerID `json:"vineyard_id"`
	Name       string   `json:"name"`
	Grape      string   `json:"grape"`
	Comment    string   `json:"comment"`
	Deleted    bool     `json:"deleted,omitempty"`
}

// Year is the wire form of a vintage record. A negative Count marks the
// vintage as deleted; revival flips it positive again under the same ids.
type Year struct {
	LocalID   LocalID  `json:"local_id,omitempty"`
	ServerID  ServerID `json:"server_id"`
	WineID    ServerID `json:"wine_id"`
	Year      int      `json:"year"`
	Count     int      `json:"count"`
	Stock     int      `json:"stock"`
	Price     float64  `json:"price"`
	Rating    int      `json:"rating"`
	Value     int      `json:"value"`
	Sweetness int      `json:"sweetness"`
	Age       int      `json:"age"`
	Location  string   `json:"location"`
	Comment   string   `json:"comment"`
}

// Log is the wire form of an inventory movement. Date is a yyyy-mm-dd string;
// there is at most one log entry per vintage, day and reason.
type Log struct {
	LocalID  LocalID   `json:"local_id,omitempty"`
	ServerID ServerID  `json:"server_id"`
	YearID   ServerID  `json:"year_id"`
	Date     string    `json:"date"`
	Delta    int       `json:"delta"`
	Reason   LogReason `json:"reason"`
	Comment  string    `json:"comment"`
}

// Batch is the body of an upload request. Slices are ordered so that parents
// precede their children. ExtraBackup asks the server to archive a backup
// snapshot after applying the batch.
type Batch struct {
	Vineyards   []Vineyard `json:"vineyards,omitempty"`
	Wines       []Wine     `json:"wines,omitempty"`
	Years       []Year     `json:"years,omitempty"`
	Log         []Log      `json:"log,omitempty"`
	ExtraBackup bool       `json:"extra_backup,omitempty"`
}

// IsEmpty reports whether the batch carries no records at all.
func (b *Batch) IsEmpty() bool {
	return b == nil ||
		len(b.Vineyards) == 0 && len(b.Wines) == 0 && len(b.Years) == 0 && len(b.Log) == 0
}

// Size returns the number of records across all four sections.
func (b *Batch) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Vineyards) + len(b.Wines) + len(b.Years) + len(b.Log)
}

// Receipt maps a client-side local id to the server id the upload produced
// or re-confirmed.
type Receipt struct {
	LocalID  LocalID  `json:"local_id"`
	ServerID ServerID `json:"server_id"`
}

// Receipts groups upload acknowledgements per record kind.
type Receipts struct {
	Vineyards []Receipt `json:"vineyards,omitempty"`
	Wines     []Receipt `json:"wines,omitempty"`
	Years     []Receipt `json:"years,omitempty"`
	Log       []Receipt `json:"log,omitempty"`
}

// IsEmpty reports whether no acknowledgements are present.
func (r *Receipts) IsEmpty() bool {
	return r == nil ||
		len(r.Vineyards) == 0 && len(r.Wines) == 0 && len(r.Years) == 0 && len(r.Log) == 0
}

// Resend lists server ids whose payloads the server wants uploaded again,
// typically after a consistency check found them missing or stale.
type Resend struct {
	Vineyards []ServerID `json:"vineyards,omitempty"`
	Wines     []ServerID `json:"wines,omitempty"`
	Years     []ServerID `json:"years,omitempty"`
	Log       []ServerID `json:"log,omitempty"`
}

// IsEmpty reports whether nothing was requested.
func (r *Resend) IsEmpty() bool {
	return r == nil ||
		len(r.Vineyards) == 0 && len(r.Wines) == 0 && len(r.Years) == 0 && len(r.Log) == 0
}

// SyncResponse is the shared shape of download and upload responses. Every
// response carries the server's change counter and database identity; data
// sections, receipts and resend requests are optional.
type SyncResponse struct {
	Vineyards []Vineyard `json:"vineyards,omitempty"`
	Wines     []Wine     `json:"wines,omitempty"`
	Years     []Year     `json:"years,omitempty"`
	Log       []Log      `json:"log,omitempty"`
	Receipts  *Receipts  `json:"receipts,omitempty"`
	Resend    *Resend    `json:"resend,omitempty"`
	Commit    int64      `json:"commit"`
	UUID      string     `json:"uuid,omitempty"`
}

// HasData reports whether any record sections are present.
func (r *SyncResponse) HasData() bool {
	return len(r.Vineyards) > 0 || len(r.Wines) > 0 || len(r.Years) > 0 || len(r.Log) > 0
}
