/*
Package maintenance contains the background loops of the in-memory job storage.

Two components run next to the foreground workers, both operating directly on
the shared entity store:

  - ExpirationManager removes entities whose expiry lies in the past. It
    sweeps the expirable kinds one after another in a fixed order, handling
    each kind in batches until a pass removes nothing.
  - CounterAggregator compacts raw counter rows into one aggregated counter
    per key, bounding the number of rows a counter read has to sum over.

Both implement Component. Run loops until its context is done, Execute runs a
single cycle and is what tests and the perf command call directly:

	exp := maintenance.NewExpirationManager(d, opts, metrics.NewSet())
	removed, err := exp.SweepKind(ctx, db.KindJob)
*/
package maintenance
