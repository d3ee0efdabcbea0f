package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fairlane-io/fairlane/internal/fairlane/repository"
	"github.com/fairlane-io/fairlane/pkg/api"
)

// BudgetServer exposes admin read/update of tenant ledger entries: fairness
// weight, budget limits and enqueue rate limit. Authentication is handled
// upstream of this service.
type BudgetServer struct {
	budgetRepository repository.BudgetRepository
}

func NewBudgetServer(budgetRepository repository.BudgetRepository) *BudgetServer {
	return &BudgetServer{budgetRepository: budgetRepository}
}

func (s *BudgetServer) Get(c *gin.Context) {
	budget, err := s.budgetRepository.GetBudget(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, budget)
}

func (s *BudgetServer) Upsert(c *gin.Context) {
	var budget api.TenantBudget
	if err := c.ShouldBindJSON(&budget); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	budget.TenantId = c.Param("id")
	if budget.Weight < 0 {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "weight must not be negative"})
		return
	}
	if err := s.budgetRepository.UpsertBudget(&budget); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
