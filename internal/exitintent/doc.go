// Package exitintent decides when a visitor is about to abandon a page.
//
// A Coordinator waits out an initial delay, classifies the client as desktop
// or mobile, and installs exactly one one-shot detector. The desktop detector
// watches for the pointer leaving through the top edge of the viewport; the
// mobile detector fires after a quiet period with no touch, scroll, click or
// key activity. Whichever fires marks a SuppressionStore so the callback runs
// at most once per suppression window, across reloads that share the same
// key/value backend.
package exitintent
