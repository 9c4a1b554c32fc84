package services

import (
	"fmt"
	"os"

	"coffee-payment-service/pkg/common"
)

// Plan is the slice of the plan aggregate this core needs: enough to
// validate that a payer may pay the posting fee for it.
type Plan struct {
	ID      uint   `json:"id"`
	OwnerID int    `json:"owner_id"`
	Title   string `json:"title"`
	Status  string `json:"status"`
}

// PlanClient resolves plan ownership. The plan CRUD service is an
// external collaborator; this core only reads from it.
type PlanClient interface {
	GetPlanOwnership(planID uint, userID int) (*Plan, error)
}

// HTTPPlanClient talks to the plan service over its REST surface.
type HTTPPlanClient struct {
	BaseURL string
}

func NewPlanClient() *HTTPPlanClient {
	return &HTTPPlanClient{BaseURL: os.Getenv("PLAN_SERVICE_URL")}
}

func (c *HTTPPlanClient) GetPlanOwnership(planID uint, userID int) (*Plan, error) {
	url := fmt.Sprintf("%s/plans/%d?userId=%d", c.BaseURL, planID, userID)
	resp, err := common.Get(url, nil)
	if err != nil {
		return nil, err
	}

	respMap, ok := resp.(map[string]interface{})
	if !ok {
		return nil, ErrPlanNotFound
	}
	if success, _ := respMap["success"].(bool); !success {
		return nil, ErrPlanNotFound
	}

	dataMap, ok := respMap["data"].(map[string]interface{})
	if !ok {
		return nil, ErrPlanNotFound
	}

	plan := &Plan{}
	if id, ok := dataMap["id"].(float64); ok {
		plan.ID = uint(id)
	}
	if owner, ok := dataMap["owner_id"].(float64); ok {
		plan.OwnerID = int(owner)
	}
	plan.Title, _ = dataMap["title"].(string)
	plan.Status, _ = dataMap["status"].(string)

	if plan.ID == 0 || plan.OwnerID != userID {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}
