// Package odm assembles the document layer into a use-ready client.
//
// A Client ties together the connection registry, the schema with its
// reverse reference index, the observer dispatcher, the reference resolver
// and the cascade-delete engine. Per-collection handles expose queries,
// saves, deletes and reference access; transactions are scoped with
// RunInTransaction and propagate to every operation made with the derived
// context.
//
// Basic Usage:
//
//	schema, err := document.NewSchema(
//		&document.Meta{Collection: "authors"},
//		&document.Meta{Collection: "books", References: []document.Reference{
//			{Field: "author", Target: "authors", OnDelete: document.Cascade},
//		}},
//	)
//	if err != nil {
//		return err
//	}
//
//	reg := registry.New()
//	if err := reg.Register(registry.DefaultAlias, conn); err != nil {
//		return err
//	}
//
//	client := odm.NewClient(reg, schema)
//
//	books := client.Collection("books")
//	book := books.New()
//	book.Set("title", "Systems Programming")
//	if err := books.Save(ctx, book); err != nil {
//		return err
//	}
//
//	err = client.Transaction(ctx, func(ctx context.Context) error {
//		_, err := books.Find(map[string]interface{}{"title": "Systems Programming"}).
//			Update(ctx, map[string]interface{}{"inc__editions": 1})
//		return err
//	})
//
// On a sync connection, reference fields resolve inline:
//
//	author, _, err := books.Reference(ctx, book, "author")
//
// On an async connection the same call returns a Deferred handle and
// performs no I/O until its Fetch:
//
//	_, deferred, err := books.Reference(ctx, book, "author")
//	author, err := deferred.Fetch(ctx)
package odm
