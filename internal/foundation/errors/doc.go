// Package errors provides the classified error primitives used across simbuild.
//
// Every failure that crosses a package boundary is a ClassifiedError carrying a
// category, a severity, a retry hint, and structured context. Adapters map the
// classification to CLI exit codes and HTTP status codes.
//
// Cancellation is modelled by the ErrAborted sentinel:
//
//	if errors.IsAborted(err) {
//		// the user stopped the build
//	}
//
// Example usage:
//
//	err := errors.ContainerError("failed to copy sources").
//		WithCause(cause).
//		WithContext("container_id", id).
//		Build()
package errors
