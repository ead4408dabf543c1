package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/legal-rag/backend/pkg/circuitbreaker"
	"github.com/legal-rag/backend/pkg/logger"
	"github.com/legal-rag/backend/pkg/retry"
)

// Client maintains the citation graph: (Document)-[:CITES]->(Article).
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type DocumentNode struct {
	ID       string
	Category string
	Title    string
}

type RelatedDocument struct {
	ID             string   `json:"id"`
	Category       string   `json:"category"`
	Title          string   `json:"title"`
	SharedArticles []string `json:"shared_articles"`
}

func NewClient(ctx context.Context, uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func documentKey(category, id string) string {
	return category + "/" + id
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

func (c *Client) EnsureConstraints(ctx context.Context) error {
	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		for _, q := range []string{
			`CREATE CONSTRAINT document_key IF NOT EXISTS FOR (d:Document) REQUIRE d.key IS UNIQUE`,
			`CREATE CONSTRAINT article_number IF NOT EXISTS FOR (a:Article) REQUIRE a.number IS UNIQUE`,
		} {
			if _, err := session.Run(ctx, q, nil); err != nil {
				return fmt.Errorf("failed to create constraint: %w", err)
			}
		}
		return nil
	})
}

// UpsertDocumentCitations replaces the outgoing CITES edges of doc.
func (c *Client) UpsertDocumentCitations(ctx context.Context, doc DocumentNode, articles []string) error {
	query := `
		MERGE (d:Document {key: $key})
		SET d.id = $id,
		    d.category = $category,
		    d.title = $title,
		    d.updated_at = timestamp()
		WITH d
		OPTIONAL MATCH (d)-[old:CITES]->()
		DELETE old
		WITH DISTINCT d
		UNWIND $articles AS number
		MERGE (a:Article {number: number})
		MERGE (d)-[:CITES]->(a)
	`

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.Run(ctx, query, map[string]interface{}{
			"key":      documentKey(doc.Category, doc.ID),
			"id":       doc.ID,
			"category": doc.Category,
			"title":    doc.Title,
			"articles": articles,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert document citations: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Citations stored in KG",
		zap.String("category", doc.Category),
		zap.String("document_id", doc.ID),
		zap.Int("articles", len(articles)),
	)
	return nil
}

func (c *Client) DeleteDocument(ctx context.Context, category, id string) error {
	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.Run(ctx, `MATCH (d:Document {key: $key}) DETACH DELETE d`, map[string]interface{}{
			"key": documentKey(category, id),
		})
		if err != nil {
			return fmt.Errorf("failed to delete document node: %w", err)
		}
		return nil
	})
}

// RelatedDocuments lists documents that cite at least one article the given
// document cites, most shared articles first.
func (c *Client) RelatedDocuments(ctx context.Context, category, id string, limit int) ([]RelatedDocument, error) {
	query := `
		MATCH (d:Document {key: $key})-[:CITES]->(a:Article)<-[:CITES]-(other:Document)
		WHERE other.key <> $key
		WITH other, collect(DISTINCT a.number) AS shared
		RETURN other.id AS id, other.category AS category, other.title AS title, shared
		ORDER BY size(shared) DESC, id
		LIMIT $limit
	`

	var related []RelatedDocument

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		related = related[:0]

		result, err := session.Run(ctx, query, map[string]interface{}{
			"key":   documentKey(category, id),
			"limit": int64(limit),
		})
		if err != nil {
			return fmt.Errorf("failed to query related documents: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()

			docID, _ := record.Get("id")
			docCategory, _ := record.Get("category")
			title, _ := record.Get("title")
			shared, _ := record.Get("shared")

			rd := RelatedDocument{
				ID:       asString(docID),
				Category: asString(docCategory),
				Title:    asString(title),
			}
			if items, ok := shared.([]interface{}); ok {
				for _, item := range items {
					rd.SharedArticles = append(rd.SharedArticles, asString(item))
				}
			}
			related = append(related, rd)
		}

		if err = result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Related documents found",
		zap.String("category", category),
		zap.String("document_id", id),
		zap.Int("results", len(related)),
	)
	return related, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
