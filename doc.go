// Package plotstream bridges a simulation introspection feed into plot
// curves.
//
// # Architecture
//
// PlotStream has three layers:
//
// Transport layer:
//   - natsclient: managed NATS connection with reconnect handling
//   - introspection: the introspection protocol, covering manager
//     discovery, item enumeration, filter RPCs and batch delivery
//     (client and serving sides)
//
// Core layer:
//   - bridge: the curve handler. Maintains a reference-counted remote
//     filter derived from the variables curves subscribe to, resolves
//     delivered parameters back to those variables, decodes scalar
//     components out of composite values and fans (sim time, value)
//     samples out to every interested curve.
//
// Supporting layer:
//   - plot: curve storage and the weak-reference table curve handles
//     come from
//   - types, pkg/spatial, pkg/uri: wire types, 3D math and the
//     scheme://path?query item naming scheme
//   - config, metric, health, errors, pkg/retry: the usual ambient
//     infrastructure
//
// The cmd/plotstream binary wires the layers together; cmd/simfeed is a
// synthetic introspection manager for exercising the bridge without a
// simulator.
//
// Data flows in one direction: callers register curves with the bridge,
// the bridge narrows the remote filter to exactly the items those curves
// need, and the manager publishes only the filtered subset. Curves are
// held weakly, so a widget can drop a curve at any time without telling
// the bridge.
package plotstream
