package backingstore

import "github.com/riftfs/pagebuffer/pkg/pagedesc"

// PageSize re-exports pagedesc.PageSize: every ReadPage/WritePage offset
// is expected to be page-aligned to the same page size the Buffer uses.
const PageSize = pagedesc.PageSize
