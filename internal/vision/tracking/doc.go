// Package tracking owns multi-person identity tracking across video frames.
//
// Responsibilities: detection pre-filtering (class allow-list, score floor,
// same-class overlap suppression), per-track appearance galleries, the
// association cascade (gated appearance matching then an IoU fallback),
// the track lifecycle (tentative, confirmed, deleted), per-track centroid
// history with turn-angle derivation, and the per-frame Step that ties
// them together.
// Key types: Tracker, Track, Detection, VisibleTrack.
//
// The active track set is owned by Tracker and only mutated inside Step.
// Readers get copies.
package tracking
