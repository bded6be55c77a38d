// Package notify holds the outbound notification contracts: cache
// invalidation toward the surrounding application and operator pings
// for finished background work.
package notify

import "go.uber.org/zap"

// ImageNotifier is called after an image's tag set changes so the
// surrounding application can invalidate denormalized caches (tag
// counts, category listings). The engine never owns that cache state.
type ImageNotifier interface {
	ImageChanged(imageID int64)
}

// LogNotifier is the default ImageNotifier: it only records the change.
type LogNotifier struct {
	Logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) ImageChanged(imageID int64) {
	n.Logger.Debug("Image tag set changed", zap.Int64("image_id", imageID))
}
