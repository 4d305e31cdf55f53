package api

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// DefaultContextSize is the number of neighbor chunks returned on each side
// of a citation when the request does not say.
const DefaultContextSize = 1

// Searcher is the query side of the engine.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
	Citation(ctx context.Context, chunkID, ownerID string, includeContext bool, contextSize int) (*search.CitationDetail, error)
	Stats(ctx context.Context, ownerID string) (*search.Stats, error)
}

// Indexer is the write side of the engine.
type Indexer interface {
	ChunkerFor(strategy string) (*chunk.Chunker, error)
	IngestTextWith(ctx context.Context, doc *store.Document, text string, chunker *chunk.Chunker) (*store.Document, error)
	Status(ctx context.Context, id string) (*store.Document, error)
	DeleteDocument(ctx context.Context, id string) (int, error)
	DeleteOwner(ctx context.Context, ownerID string) (int, error)
}

// SearchHandler serves search, citation and stats requests.
type SearchHandler struct {
	searcher Searcher
}

// NewSearchHandler creates a SearchHandler.
func NewSearchHandler(searcher Searcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

// HandleSearch runs a search. mode overrides the mode in the body when set.
func (h *SearchHandler) HandleSearch(mode search.Mode) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var params SearchRequest
		if err := c.BodyParser(&params); err != nil {
			return ErrBadRequest()
		}
		if errs := Validate(&params); len(errs) > 0 {
			return NewValidationError(errs)
		}

		resp, err := h.searcher.Search(c.UserContext(), params.toEngine(mode))
		if err != nil {
			return err
		}
		return c.JSON(newSearchResponse(resp))
	}
}

// HandleCitation resolves one chunk with its neighbors.
func (h *SearchHandler) HandleCitation(c *fiber.Ctx) error {
	var params CitationQuery
	if err := c.QueryParser(&params); err != nil {
		return ErrBadRequest()
	}
	if errs := Validate(&params); len(errs) > 0 {
		return NewValidationError(errs)
	}

	include, size := contextParams(params.IncludeContext, params.ContextSize)
	detail, err := h.searcher.Citation(c.UserContext(), c.Params("chunk_id"), params.OwnerID, include, size)
	if err != nil {
		return err
	}
	return c.JSON(detail)
}

// HandleCitationBatch resolves several chunks. Unknown ids are skipped.
func (h *SearchHandler) HandleCitationBatch(c *fiber.Ctx) error {
	var params CitationBatchRequest
	if err := c.BodyParser(&params); err != nil {
		return ErrBadRequest()
	}
	if errs := Validate(&params); len(errs) > 0 {
		return NewValidationError(errs)
	}

	include, size := contextParams(params.IncludeContext, params.ContextSize)
	details := make([]*search.CitationDetail, 0, len(params.ChunkIDs))
	for _, id := range params.ChunkIDs {
		d, err := h.searcher.Citation(c.UserContext(), id, params.OwnerID, include, size)
		if err != nil {
			if amanerrors.GetCode(err) == amanerrors.ErrCodeNotFound {
				continue
			}
			return err
		}
		details = append(details, d)
	}
	return c.JSON(details)
}

// HandleStats reports index statistics, per owner when owner_id is given.
func (h *SearchHandler) HandleStats(c *fiber.Ctx) error {
	owner := c.Query("owner_id")
	stats, err := h.searcher.Stats(c.UserContext(), owner)
	if err != nil {
		return err
	}
	return c.JSON(newStatsResponse(owner, stats))
}

func contextParams(include *bool, size *int) (bool, int) {
	inc, n := true, DefaultContextSize
	if include != nil {
		inc = *include
	}
	if size != nil {
		n = *size
	}
	return inc, n
}

// DocumentHandler serves ingest and delete requests.
type DocumentHandler struct {
	indexer Indexer
}

// NewDocumentHandler creates a DocumentHandler.
func NewDocumentHandler(indexer Indexer) *DocumentHandler {
	return &DocumentHandler{indexer: indexer}
}

// HandleIngest chunks and ingests the posted text. The response carries the
// document in its final status; a failed ingest still returns the document
// with status error and the reason.
func (h *DocumentHandler) HandleIngest(c *fiber.Ctx) error {
	var params IngestRequest
	if err := c.BodyParser(&params); err != nil {
		return ErrBadRequest()
	}
	if errs := Validate(&params); len(errs) > 0 {
		return NewValidationError(errs)
	}

	chunker, err := h.indexer.ChunkerFor(params.Strategy)
	if err != nil {
		return err
	}
	name := params.Name
	if name == "" {
		name = params.DocumentID
	}
	doc := &store.Document{
		ID:       params.DocumentID,
		OwnerID:  params.OwnerID,
		Name:     name,
		Source:   params.Source,
		Metadata: params.Metadata,
	}

	ctx := c.UserContext()
	if _, err := h.indexer.IngestTextWith(ctx, doc, params.Text, chunker); err != nil {
		if amanerrors.GetCategory(err) == amanerrors.CategoryValidation {
			return err
		}
		stored, statusErr := h.indexer.Status(ctx, params.DocumentID)
		if statusErr != nil {
			return err
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(newDocumentResponse(stored))
	}

	stored, err := h.indexer.Status(ctx, params.DocumentID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(newDocumentResponse(stored))
}

// HandleGet returns a document and its ingest status.
func (h *DocumentHandler) HandleGet(c *fiber.Ctx) error {
	doc, err := h.indexer.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(newDocumentResponse(doc))
}

// HandleDelete removes a document.
func (h *DocumentHandler) HandleDelete(c *fiber.Ctx) error {
	n, err := h.indexer.DeleteDocument(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(DeleteResponse{Deleted: n})
}

// HandleDeleteOwner removes every document of an owner.
func (h *DocumentHandler) HandleDeleteOwner(c *fiber.Ctx) error {
	n, err := h.indexer.DeleteOwner(c.UserContext(), c.Params("owner_id"))
	if err != nil {
		return err
	}
	return c.JSON(DeleteResponse{Deleted: n})
}

// CheckHandler serves liveness checks.
type CheckHandler struct{}

// NewCheckHandler creates a CheckHandler.
func NewCheckHandler() *CheckHandler {
	return &CheckHandler{}
}

// HandleHealthy reports that the server is up.
func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}
