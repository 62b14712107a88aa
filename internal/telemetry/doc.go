// Package telemetry fans converge evidence out to its consumers.
//
// A Sink receives every ConvergeDecision an executor produces and every IR
// build a module installs. Sinks satisfy engine.Publisher and
// engine.BuildPublisher, so one is wired with engine.WithPublisher:
//
//	sink := telemetry.Multi(
//	    telemetry.NewLogSink(logger, "cart"),
//	    telemetry.NewStoreSink(st, "cart"),
//	)
//	m, err := engine.NewModule("cart", static, entries, engine.WithPublisher(sink))
//
// Sinks never change engine behavior: the executor logs a failed publish and
// carries on.
package telemetry
