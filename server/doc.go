// Package server composes the route table, the middleware pipeline,
// and the realtime registry into a runnable HTTP service core.
//
// A Server is an http.Handler, so it embeds into existing programs and
// httptest servers directly; Start and Shutdown manage its own listener
// when it runs standalone. Every request flows through the enabled
// built-in stages, then any handlers added with Use, and finally the
// matched route handler. Requests that match no route receive a uniform
// 400 response so route existence is never revealed.
//
// # Usage
//
//	srv, err := server.New(cfg,
//	    server.WithLogger(logger),
//	    server.WithStore(st),
//	)
//	if err != nil {
//	    return err
//	}
//	srv.Register(router.MethodGet, "/items/:id", func(c *relay.Context) {
//	    id, _ := c.Param("id")
//	    c.JSON(map[string]any{"id": id})
//	})
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(context.Background())
package server
