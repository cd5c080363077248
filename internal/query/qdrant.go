package query

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantVectorIndex backs VectorIndex with a qdrant collection, one point
// per (domain, node index) pair. The DSN is a plain URL: scheme selects
// TLS, an api_key query parameter supplies the bearer credential, e.g.
// "https://cluster.qdrant.io:6334?api_key=...".
type QdrantVectorIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantVectorIndex dials dsn and ensures collection exists with the
// given dimension and distance metric ("cosine", "dot", "euclid").
func NewQdrantVectorIndex(ctx context.Context, dsn, collection, metric string, dimension int) (*QdrantVectorIndex, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing qdrant dsn: %w", err)
	}

	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	if err != nil || port == 0 {
		port = 6334
	}

	cfg := &qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: u.Query().Get("api_key"),
	}
	if u.Scheme == "https" {
		cfg.UseTLS = true
		cfg.TLSConfig = &tls.Config{}
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("dialing qdrant: %w", err)
	}

	idx := &QdrantVectorIndex{client: client, collection: collection, dimension: dimension}
	if err := idx.ensureCollection(ctx, metric); err != nil {
		return nil, err
	}
	return idx, nil
}

func (q *QdrantVectorIndex) ensureCollection(ctx context.Context, metric string) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("checking qdrant collection: %w", err)
	}
	if exists {
		return nil
	}

	distance := distanceFromMetric(metric)
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating qdrant collection: %w", err)
	}
	return nil
}

func distanceFromMetric(metric string) qdrant.Distance {
	switch metric {
	case "dot":
		return qdrant.Distance_Dot
	case "euclid", "euclidean":
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

// pointID maps a (domain, node-index) pair to a deterministic UUID, since
// qdrant point ids must be a u64 or UUID.
func pointID(domain string, id int) *qdrant.PointId {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%d", domain, id)))
	return qdrant.NewID(u.String())
}

func (q *QdrantVectorIndex) Upsert(ctx context.Context, domain string, id int, vector []float32) error {
	point := &qdrant.PointStruct{
		Id:      pointID(domain, id),
		Vectors: qdrant.NewVectors(vector...),
		Payload: qdrant.NewValueMap(map[string]any{
			"domain":     domain,
			"node_index": id,
		}),
	}
	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         []*qdrant.PointStruct{point},
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("upserting to qdrant: %w", err)
	}
	return nil
}

func (q *QdrantVectorIndex) Delete(ctx context.Context, domain string, id int) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: qdrant.NewPointsSelector(pointID(domain, id)),
	})
	if err != nil {
		return fmt.Errorf("deleting from qdrant: %w", err)
	}
	return nil
}

func (q *QdrantVectorIndex) Search(ctx context.Context, domain string, vector []float32, k int) ([]ScoredID, error) {
	limit := uint64(k)
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("domain", domain),
		},
	}
	withPayload := true
	resp, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         filter,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(withPayload),
	})
	if err != nil {
		return nil, fmt.Errorf("querying qdrant: %w", err)
	}

	out := make([]ScoredID, 0, len(resp))
	for _, p := range resp {
		nodeIdx := 0
		if v, ok := p.Payload["node_index"]; ok {
			nodeIdx = int(v.GetIntegerValue())
		}
		out = append(out, ScoredID{ID: nodeIdx, Score: float64(p.Score)})
	}
	return out, nil
}
