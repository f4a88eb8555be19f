// Package fetcher lists Monitor entities from the upstream catalog.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/acryl-data/monitors/internal/domain"
)

// searchAcrossEntitiesQuery lists MONITOR entities with a single paged
// call, matching the upstream source's listMonitors query shape.
const searchAcrossEntitiesQuery = `
query listMonitors($types: [EntityType!], $count: Int!) {
  searchAcrossEntities(input: {
    types: $types,
    query: "*",
    start: 0,
    count: $count,
    searchFlags: { skipCache: true }
  }) {
    searchResults {
      entity {
        urn
        ... on Monitor {
          info {
            type
            assertionMonitor {
              assertions {
                assertion {
                  urn
                  info { type freshnessAssertion { type schedule { type cron { cron timezone windowStartOffsetMs } fixedInterval { unit multiple } } } }
                  relationships(input: { types: ["Asserts"], direction: OUTGOING }) {
                    relationships {
                      entity {
                        urn
                        platform { urn }
                        subTypes { typeNames }
                      }
                    }
                  }
                }
                schedule { cron timezone }
                parameters {
                  type
                  datasetFreshnessParameters {
                    sourceType
                    field { path type nativeType }
                    auditLog { operationTypes userName }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

// GraphQLExecutor is the subset of catalog.Client this package depends on.
type GraphQLExecutor interface {
	Execute(ctx context.Context, query string, variables map[string]any, out any) error
}

// Fetcher lists Monitor entities from the catalog with a bounded retry
// envelope.
type Fetcher struct {
	gql       GraphQLExecutor
	batchSize int
}

// New creates a Fetcher against the given GraphQL executor. batchSize
// bounds the single searchAcrossEntities page (config.DefaultListMonitorsBatchSize
// when zero).
func New(gql GraphQLExecutor, batchSize int) *Fetcher {
	if batchSize <= 0 {
		batchSize = 10000
	}
	return &Fetcher{gql: gql, batchSize: batchSize}
}

type searchAcrossEntitiesResponse struct {
	SearchAcrossEntities struct {
		SearchResults []struct {
			Entity rawMonitorEntity `json:"entity"`
		} `json:"searchResults"`
	} `json:"searchAcrossEntities"`
}

// rawMonitorEntity mirrors the nested shape the catalog returns for a
// Monitor entity before it is flattened into domain.Monitor.
type rawMonitorEntity struct {
	Urn  string `json:"urn"`
	Info *struct {
		Type             string `json:"type"`
		AssertionMonitor *struct {
			Assertions []rawAssertionEvaluationSpec `json:"assertions"`
		} `json:"assertionMonitor"`
	} `json:"info"`
}

type rawAssertionEvaluationSpec struct {
	Assertion  rawAssertion                          `json:"assertion"`
	Schedule   domain.CronSchedule                    `json:"schedule"`
	Parameters *domain.AssertionEvaluationParameters `json:"parameters"`
}

type rawAssertion struct {
	Urn  string `json:"urn"`
	Info *struct {
		Type               string                     `json:"type"`
		FreshnessAssertion *domain.FreshnessAssertion `json:"freshnessAssertion"`
	} `json:"info"`
	Relationships *struct {
		Relationships []struct {
			Entity struct {
				Urn      string `json:"urn"`
				Platform struct {
					Urn string `json:"urn"`
				} `json:"platform"`
				SubTypes *struct {
					TypeNames []string `json:"typeNames"`
				} `json:"subTypes"`
			} `json:"entity"`
		} `json:"relationships"`
	} `json:"relationships"`
}

// toDomainAssertion flattens the GraphQL relationship shape into the
// strict domain.Assertion struct, mirroring the root-validator extraction
// the upstream source performs in its Assertion Pydantic model.
func (r rawAssertion) toDomainAssertion() (domain.Assertion, error) {
	if r.Relationships == nil || len(r.Relationships.Relationships) == 0 {
		return domain.Assertion{}, fmt.Errorf("assertion %s: missing entity relationship", r.Urn)
	}
	rel := r.Relationships.Relationships[0].Entity

	var subTypes []string
	if rel.SubTypes != nil {
		subTypes = rel.SubTypes.TypeNames
	}

	a := domain.Assertion{
		Urn: r.Urn,
		Entity: domain.AssertionEntity{
			Urn:         rel.Urn,
			PlatformUrn: rel.Platform.Urn,
			SubTypes:    subTypes,
		},
	}
	platformUrn := rel.Platform.Urn
	a.ConnectionUrn = &platformUrn

	if r.Info != nil {
		a.Type = domain.AssertionType(r.Info.Type)
		a.FreshnessAssertion = r.Info.FreshnessAssertion
	}
	return a, nil
}

// Fetch lists all Monitor entities, making up to 3 attempts with
// exponential backoff between them (multiplier 2, starting at 4s, capped
// at 10s: about 4s then 8s, jittered) on failure — matching
// the upstream fetcher's @retry(stop_after_attempt(3), wait_exponential(...)).
func (f *Fetcher) Fetch(ctx context.Context) ([]domain.Monitor, error) {
	var monitors []domain.Monitor

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 4 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	attempt := 0
	op := func() error {
		attempt++
		result, err := f.fetchOnce(ctx)
		if err != nil {
			slog.WarnContext(ctx, "fetcher: list monitors attempt failed", "attempt", attempt, "error", err)
			return err
		}
		monitors = result
		return nil
	}

	if err := backoff.Retry(op, backoff.WithMaxRetries(bo, 2)); err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	return monitors, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context) ([]domain.Monitor, error) {
	var resp searchAcrossEntitiesResponse
	err := f.gql.Execute(ctx, searchAcrossEntitiesQuery, map[string]any{
		"types": []string{"MONITOR"},
		"count": f.batchSize,
	}, &resp)
	if err != nil {
		return nil, err
	}

	monitors := make([]domain.Monitor, 0, len(resp.SearchAcrossEntities.SearchResults))
	for _, sr := range resp.SearchAcrossEntities.SearchResults {
		m, err := toDomainMonitor(sr.Entity)
		if err != nil {
			slog.WarnContext(ctx, "fetcher: skipping malformed monitor", "urn", sr.Entity.Urn, "error", err)
			continue
		}
		monitors = append(monitors, m)
	}
	return monitors, nil
}

func toDomainMonitor(raw rawMonitorEntity) (domain.Monitor, error) {
	m := domain.Monitor{Urn: raw.Urn}
	if raw.Info == nil {
		return domain.Monitor{}, fmt.Errorf("missing info block")
	}
	m.Type = domain.MonitorType(raw.Info.Type)

	if raw.Info.AssertionMonitor == nil {
		return m, nil
	}

	specs := make([]domain.AssertionEvaluationSpec, 0, len(raw.Info.AssertionMonitor.Assertions))
	for _, ra := range raw.Info.AssertionMonitor.Assertions {
		assertion, err := ra.Assertion.toDomainAssertion()
		if err != nil {
			return domain.Monitor{}, err
		}
		specs = append(specs, domain.AssertionEvaluationSpec{
			Assertion:  assertion,
			Schedule:   ra.Schedule,
			Parameters: ra.Parameters,
		})
	}
	m.AssertionMonitor = &domain.AssertionMonitor{Assertions: specs}
	return m, nil
}
