// Package transport decides which OS socket behaviours may be requested, and
// applies them to listeners, connections and packet sockets.
//
// # Capabilities
//
// Each [Capability] is probed once, on first use, and never again. An
// unavailable capability reports a [*CapabilityError] naming the feature and
// the underlying cause. Capability errors are values: requesting a feature
// that is unavailable fails the request, and never panics.
//
// # Socket options
//
// [ServerOptions], [ClientOptions] and [DatagramOptions] declare the
// options to apply. A [Transport] applies them through the Control hooks of
// [net.ListenConfig] and [net.Dialer], before the socket is bound or
// connected. Options that only make sense for TCP are skipped for Unix
// domain sockets.
//
// The TCP_FASTOPEN queue length for listeners is the current value of a
// [Threshold], read as each listener is created. [DefaultThreshold] is the
// process-wide instance, 256 unless changed.
package transport
