// Package capture drives a memory-mapped V4L2 capture device through its
// acquisition lifecycle with a single kernel buffer.
//
// The components build on each other in one direction:
//
//	Device -> FormatNegotiator -> BufferManager -> StreamController
//
// with ControlSynchronizer pausing the StreamController around control
// writes. Session composes them:
//
//	sess := capture.NewSession(capture.Options{
//		DevicePath:  "/dev/video0",
//		Width:       1920,
//		Height:      1080,
//		PixelFormat: v4l2.PixFmtMJPEG,
//	})
//	defer sess.Teardown()
//	if err := sess.Prepare(); err != nil {
//		return err
//	}
//	frame, err := sess.Capture()
//
// A Device is owned by exactly one Session and none of the types are safe
// for concurrent use. The mapped buffer belongs to the driver between
// enqueue and dequeue and to the process otherwise; that handoff is kept
// by call order alone.
//
// Failures are *Error values carrying a code and a stage. A failed dequeue
// leaves buffer ownership unknown, so further captures fail with
// STREAM_RESET_REQUIRED until ResetStream succeeds.
package capture
