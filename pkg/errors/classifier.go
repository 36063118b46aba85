package errors

import (
	"phabry/pkg/logger"
)

// Classifier turns raw failures into ClassifiedErrors and records each one
// on the logging sink it was constructed with. It never retries and it never
// decides control flow; whether a failure aborts the run belongs to the
// caller, expressed through Fatal vs Recoverable.
type Classifier struct {
	logger logger.Logger
}

// NewClassifier creates a classifier bound to the given logging sink.
func NewClassifier(log logger.Logger) *Classifier {
	return &Classifier{logger: log}
}

// Fatal classifies a failure that aborts the run.
func (c *Classifier) Fatal(err error, context string) *ClassifiedError {
	return c.classify(err, context, SeverityFatal)
}

// Recoverable classifies a failure that only terminates its own pagination
// context.
func (c *Classifier) Recoverable(err error, context string) *ClassifiedError {
	return c.classify(err, context, SeverityRecoverable)
}

func (c *Classifier) classify(err error, context string, severity Severity) *ClassifiedError {
	classified := &ClassifiedError{
		Kind:     KindOf(err),
		Severity: severity,
		Context:  context,
		Err:      err,
	}

	fields := map[string]interface{}{
		"kind":    string(classified.Kind),
		"context": context,
		"error":   err.Error(),
	}
	if severity == SeverityFatal {
		c.logger.ErrorWithFields("classified failure", fields)
	} else {
		c.logger.WarnWithFields("classified failure", fields)
	}

	return classified
}
