package resilience

import "go.uber.org/zap"

func stateLogger(dependency string) func(from, to CircuitState) {
	return func(from, to CircuitState) {
		zap.L().Warn("circuit state change",
			zap.String("dependency", dependency),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
}
