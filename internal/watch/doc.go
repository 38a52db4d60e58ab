// Package watch provides the live-rebuild loop of assetflow. It monitors the
// source directories of every watch subscription, debounces rapid events,
// and schedules incremental builds of the subscribed tasks and their
// dependents. Triggers arriving while a build runs are merged into a single
// follow-up build.
package watch
