/*
Package common contains the pieces shared by the memjob commands: the logger
setup and the configuration of the demo server.

All storage packages log through dragonboat's logger package
(logger.GetLogger). InitLoggers replaces dragonboat's default factory with one
writing colored, leveled records through slog and tint:

	if err := common.InitLoggers("debug"); err != nil {
		return err
	}
*/
package common
