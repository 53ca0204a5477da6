package pagedesc

// PageSize is the fixed size, in bytes, of every page a Descriptor can
// represent — the "fixed-size (typically 4 KiB) aligned region" from the
// glossary. It lives in this leaf package (rather than in pagebuf or
// backingstore) so both the core Buffer and the external backing-store
// contract can depend on one definition without depending on each other.
const PageSize int64 = 4096
