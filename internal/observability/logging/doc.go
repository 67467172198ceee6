// Package logging builds the process logger and carries request-scoped
// loggers through context.
//
//	logger := logging.NewLogger()
//	slog.SetDefault(logger)
//
//	func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
//	    logging.FromContext(r.Context()).Info("status lookup")
//	}
package logging
