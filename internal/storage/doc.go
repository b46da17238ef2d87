// Package storage reads events straight from the on-disk store layout.
//
// Event files live under <root>/YYYY/MM/DD (or the older <root>/YYYYMM/DD)
// and are named HHMMSSNNNNNNNNN_<typeId>. Each file holds the event JSON on
// its first line and the metadata JSON, possibly empty, on the second. The
// creation time of an event is recovered from its path alone.
//
// Optional index files under <root>/indexes/types/<typeId> list relative
// paths of every event of that type, one per line. The reader consults them
// but never writes them.
package storage
