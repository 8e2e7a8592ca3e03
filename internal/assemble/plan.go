package assemble

import (
	"fmt"
	"strings"

	"github.com/pavelanni/crammer/internal/model"
)

// BlockPlan is the worst-case capacity of one block.
type BlockPlan struct {
	Title     string `json:"title"`
	Method    string `json:"method"`
	Want      int    `json:"want"`
	Pool      int    `json:"pool"`
	Guarantee int    `json:"guarantee"`
	Problem   string `json:"problem,omitempty"`
}

// Plan reports, for every block, how many questions are guaranteed to remain
// whatever earlier random blocks pick.
type Plan struct {
	Blocks []BlockPlan `json:"blocks"`
}

// Feasible reports whether every block can always be filled.
func (p Plan) Feasible() bool {
	for _, b := range p.Blocks {
		if b.Problem != "" {
			return false
		}
	}
	return true
}

// Err returns nil for a feasible plan, or an error naming every short block.
func (p Plan) Err() error {
	var problems []string
	for _, b := range p.Blocks {
		if b.Problem != "" {
			problems = append(problems, fmt.Sprintf("block %q: %s", b.Title, b.Problem))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", strings.Join(problems, "; "), ErrInsufficientQuestions)
}

// Check computes the plan for blocks against the bank.
//
// A random block i is guaranteed q_i questions when
//
//	|P_i| - |earlier manual IDs in P_i| - sum over earlier random j of min(q_j, |P_i ∩ P_j|) >= q_i
//
// since an earlier random block can take at most q_j questions and only those
// in its own pool. Manual blocks must list existing, not yet listed IDs; a
// manual ID that an earlier random block may already have drawn is also a
// problem, as that exam would come up short.
func Check(bank *Bank, blocks []model.SelectionBlock) Plan {
	type earlier struct {
		random bool
		qty    int
		pool   map[int]bool
	}
	var prior []earlier
	manualTaken := make(map[int]bool)

	plan := Plan{Blocks: make([]BlockPlan, 0, len(blocks))}
	for _, block := range blocks {
		bp := BlockPlan{Title: block.Title, Method: string(block.Method)}

		if block.Method == model.MethodManual {
			bp.Want = len(block.QuestionIDs)
			pool := make(map[int]bool, len(block.QuestionIDs))
			var missing, repeated, contested []string
			for _, id := range block.QuestionIDs {
				i, ok := bank.byID[id]
				if !ok {
					missing = append(missing, id)
					continue
				}
				if manualTaken[i] || pool[i] {
					repeated = append(repeated, id)
					continue
				}
				for _, p := range prior {
					if p.random && p.pool[i] {
						contested = append(contested, id)
						break
					}
				}
				pool[i] = true
			}
			bp.Pool = len(pool)
			bp.Guarantee = len(pool) - len(contested)
			switch {
			case len(missing) > 0:
				bp.Problem = "unknown question IDs: " + strings.Join(missing, ", ")
			case len(repeated) > 0:
				bp.Problem = "question IDs listed more than once: " + strings.Join(repeated, ", ")
			case len(contested) > 0:
				bp.Problem = "question IDs may already be drawn by an earlier random block: " + strings.Join(contested, ", ")
			}
			for i := range pool {
				manualTaken[i] = true
			}
			prior = append(prior, earlier{pool: pool})
			plan.Blocks = append(plan.Blocks, bp)
			continue
		}

		bp.Want = block.Quantity
		if !block.Method.IsRandom() {
			bp.Problem = "unsupported selection method"
			plan.Blocks = append(plan.Blocks, bp)
			continue
		}

		idx := bank.pool(block)
		pool := make(map[int]bool, len(idx))
		for _, i := range idx {
			pool[i] = true
		}
		bp.Pool = len(pool)

		guarantee := len(pool)
		for i := range pool {
			if manualTaken[i] {
				guarantee--
			}
		}
		for _, p := range prior {
			if !p.random {
				continue
			}
			overlap := 0
			for i := range p.pool {
				if pool[i] && !manualTaken[i] {
					overlap++
				}
			}
			guarantee -= min(p.qty, overlap)
		}
		bp.Guarantee = max(guarantee, 0)
		if bp.Guarantee < bp.Want {
			bp.Problem = fmt.Sprintf("needs %d questions but only %d are guaranteed (pool of %d)", bp.Want, bp.Guarantee, bp.Pool)
		}

		prior = append(prior, earlier{random: true, qty: block.Quantity, pool: pool})
		plan.Blocks = append(plan.Blocks, bp)
	}
	return plan
}
