package registry

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Seed holds the initial collections a Store is created from.
type Seed struct {
	Models    []Model           `yaml:"models"`
	Datasets  []Dataset         `yaml:"datasets"`
	Approvals []ApprovalRequest `yaml:"approvals"`
}

// Validate checks identity uniqueness, that every approval request
// references a model in the seed, and that no pending request points at a
// model whose approval was already decided.
func (s Seed) Validate() error {
	status := make(map[string]ApprovalStatus, len(s.Models))
	for _, m := range s.Models {
		if m.ID == "" {
			return fmt.Errorf("seed model %q has no id", m.Name)
		}
		if _, dup := status[m.ID]; dup {
			return fmt.Errorf("duplicate seed model id %q", m.ID)
		}
		status[m.ID] = m.ApprovalStatus
	}
	reqIDs := make(map[string]struct{}, len(s.Approvals))
	for _, r := range s.Approvals {
		ms, ok := status[r.ModelID]
		if !ok {
			return fmt.Errorf("approval %q: %w: %s", r.ID, ErrModelNotFound, r.ModelID)
		}
		if !r.Status.Terminal() && ms.Terminal() {
			return fmt.Errorf("approval %q is pending: %w: %s is %s", r.ID, ErrModelDecided, r.ModelID, ms)
		}
		if _, dup := reqIDs[r.ID]; dup {
			return fmt.Errorf("duplicate seed approval id %q", r.ID)
		}
		reqIDs[r.ID] = struct{}{}
	}
	return nil
}

// LoadSeed reads a YAML seed file and validates it.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("reading seed file: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seed{}, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	for i := range s.Models {
		d, err := ParseDomain(string(s.Models[i].Domain))
		if err != nil {
			return Seed{}, fmt.Errorf("seed model %q: %w", s.Models[i].ID, err)
		}
		s.Models[i].Domain = d
		if s.Models[i].ApprovalStatus == "" {
			s.Models[i].ApprovalStatus = ApprovalPending
		}
		if ms := s.Models[i].MonitoringStatus; ms != "" {
			parsed, err := ParseMonitoringStatus(string(ms))
			if err != nil {
				return Seed{}, fmt.Errorf("seed model %q: %w", s.Models[i].ID, err)
			}
			s.Models[i].MonitoringStatus = parsed
		}
	}
	for i := range s.Approvals {
		if s.Approvals[i].Status == "" {
			s.Approvals[i].Status = ApprovalPending
		}
	}
	if err := s.Validate(); err != nil {
		return Seed{}, err
	}
	return s, nil
}

// DefaultSeedSize is the number of models DefaultSeed generates.
const DefaultSeedSize = 145

var (
	seedPrefixes   = []string{"Sentinel", "Atlas", "Helix", "Nimbus", "Orion", "Vertex", "Quasar", "Pulse", "Cobalt", "Aurora", "Lumen", "Zephyr"}
	seedSuffixes   = []string{"Forecaster", "Classifier", "Detector", "Ranker", "Segmenter", "Scorer", "Optimizer", "Predictor"}
	seedFrameworks = []string{"PyTorch", "TensorFlow", "XGBoost", "LightGBM", "scikit-learn", "JAX"}
	seedOwners     = []string{"a.chen", "m.okafor", "s.patel", "j.moreau", "l.garcia", "k.tanaka", "r.ivanova"}
)

// DefaultSeed builds a deterministic demo registry: DefaultSeedSize models
// spread over all domains, two datasets per domain (the first of each
// pair sensitive for Finance and Healthcare), and a pending approval
// request for every pending model.
func DefaultSeed() Seed {
	rng := rand.New(rand.NewPCG(42, DefaultSeedSize))
	base := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

	var datasets []Dataset
	for i, d := range Domains {
		for j := range 2 {
			datasets = append(datasets, Dataset{
				ID:        fmt.Sprintf("ds-%02d", i*2+j+1),
				Name:      fmt.Sprintf("%s corpus %c", d, 'A'+j),
				Domain:    d,
				Sensitive: j == 0 && (d == DomainFinance || d == DomainHealthcare),
			})
		}
	}

	models := make([]Model, 0, DefaultSeedSize)
	var approvals []ApprovalRequest
	for i := range DefaultSeedSize {
		domain := Domains[rng.IntN(len(Domains))]
		di := 0
		for k, d := range Domains {
			if d == domain {
				di = k
			}
		}
		ds := datasets[di*2+rng.IntN(2)]

		acc := round3(0.70 + rng.Float64()*0.29)
		m := Model{
			ID:               fmt.Sprintf("m-%d", i+1),
			Name:             fmt.Sprintf("%s %s %d", seedPrefixes[rng.IntN(len(seedPrefixes))], seedSuffixes[rng.IntN(len(seedSuffixes))], i+1),
			Domain:           domain,
			Accuracy:         acc,
			LatencyMs:        math.Round(5 + rng.Float64()*495),
			ApprovalStatus:   seedApproval(rng),
			MonitoringStatus: seedMonitoring(rng),
			Stage:            seedStage(rng),
			Version:          fmt.Sprintf("v%d.%d.%d", 1+rng.IntN(3), rng.IntN(10), rng.IntN(20)),
			Owner:            seedOwners[rng.IntN(len(seedOwners))],
			Framework:        seedFrameworks[rng.IntN(len(seedFrameworks))],
			DatasetID:        ds.ID,
			Description:      fmt.Sprintf("%s model trained on %s", domain, ds.Name),
			F1Score:          round3(acc - rng.Float64()*0.05),
			CreatedAt:        base.Add(-time.Duration(i) * 36 * time.Hour),
		}
		models = append(models, m)

		if m.ApprovalStatus == ApprovalPending {
			approvals = append(approvals, ApprovalRequest{
				ID:          fmt.Sprintf("req-%d", len(approvals)+1),
				ModelID:     m.ID,
				ModelName:   m.Name,
				RequestedBy: m.Owner,
				Status:      ApprovalPending,
				Timestamp:   m.CreatedAt.Add(2 * time.Hour),
			})
		}
	}

	return Seed{Models: models, Datasets: datasets, Approvals: approvals}
}

func seedApproval(rng *rand.Rand) ApprovalStatus {
	switch n := rng.IntN(10); {
	case n < 2:
		return ApprovalPending
	case n < 9:
		return ApprovalApproved
	default:
		return ApprovalRejected
	}
}

func seedMonitoring(rng *rand.Rand) MonitoringStatus {
	switch n := rng.IntN(20); {
	case n < 15:
		return MonitoringHealthy
	case n < 19:
		return MonitoringDegraded
	default:
		return MonitoringCritical
	}
}

func seedStage(rng *rand.Rand) ModelStage {
	stages := []ModelStage{StageExperimental, StageStaging, StageProduction, StageProduction, StageArchived}
	return stages[rng.IntN(len(stages))]
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
