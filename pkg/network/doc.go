// Package network builds the segment graph of a river network from a
// parameter table.
//
// Segments are stored in an arena sorted by SegmentID and addressed by a
// dense int index. Downstream links are a single index per segment (-1 for
// an outlet) and upstream links are index slices in ascending order, so every
// traversal over a Forest is deterministic and iterative.
//
// Build rejects duplicate identifiers, dangling downstream references,
// invalid parameter rows and cycles. On any error no Forest is returned.
package network
