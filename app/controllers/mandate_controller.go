package controllers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/clubpilot/ClubPilot/app/models"
	"github.com/clubpilot/ClubPilot/internal/pkg/database"
	"github.com/clubpilot/ClubPilot/internal/pkg/env"
	"github.com/clubpilot/ClubPilot/internal/pkg/payments"
	"github.com/clubpilot/ClubPilot/internal/pkg/security"
)

var mandateEngine *security.Engine

// InitializeMandateController wires the encryption engine the mandate setup
// flow depends on.
func InitializeMandateController(engine *security.Engine) {
	mandateEngine = engine
}

// mandateFlowState is sealed into the state token that round-trips through
// the provider's hosted redirect flow. The session token binds completion to
// the session that started the flow.
type mandateFlowState struct {
	MemberID     uint   `json:"member_id"`
	Provider     string `json:"provider"`
	SessionToken string `json:"session_token"`
}

type mandateSetupRequest struct {
	MemberID uint   `json:"member_id" validate:"required"`
	Provider string `json:"provider" validate:"required"`
}

// HandleMandateSetupStart opens a hosted mandate setup flow and hands the
// caller the provider redirect URL plus an opaque state token for the return
// leg.
func HandleMandateSetupStart(c *fiber.Ctx) error {
	if mandateEngine == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "mandate setup unavailable"})
	}

	var req mandateSetupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.MemberID == 0 || req.Provider == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "member_id and provider are required"})
	}

	provider, err := payments.Get(req.Provider)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown provider"})
	}
	if !provider.Supports(payments.CapabilityMandateSetupFlow) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "provider does not support mandate setup",
		})
	}

	var member models.Member
	if err := database.GetDB().First(&member, req.MemberID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "member not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}

	sessionToken, err := security.GenerateSecureToken(32)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not start setup"})
	}

	state, err := security.GenerateState(mandateEngine, mandateFlowState{
		MemberID:     member.ID,
		Provider:     req.Provider,
		SessionToken: sessionToken,
	}, 0)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not start setup"})
	}

	successURL := env.GetEnv("APP_PUBLIC_URL", "http://localhost:4000") + "/payments/mandates/setup/complete?state=" + state
	flow, err := provider.CreateMandateSetupFlow(c.UserContext(), payments.MandateSetupParams{
		CustomerParams: payments.CustomerParams{
			Email:     member.Email,
			GivenName: member.Name,
		},
		Description:        "Membership fees for " + env.GetEnv("APP_NAME", "ClubPilot"),
		SessionToken:       sessionToken,
		SuccessRedirectURL: successURL,
	})
	if err != nil {
		log.Printf("[Mandate] setup flow for member %d via %s failed: %v", member.ID, req.Provider, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider request failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"flow_id":      flow.ID,
		"redirect_url": flow.RedirectURL,
		"state":        state,
	})
}

// HandleMandateSetupComplete is the return leg of the redirect flow. The
// state token authenticates the callback; anything wrong with it gets one
// uniform rejection.
func HandleMandateSetupComplete(c *fiber.Ctx) error {
	if mandateEngine == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "mandate setup unavailable"})
	}

	stateToken := c.Query("state")
	flowID := c.Query("redirect_flow_id")
	if stateToken == "" || flowID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "state and redirect_flow_id are required"})
	}

	var state mandateFlowState
	if err := security.VerifyState(mandateEngine, stateToken, &state); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired state"})
	}

	provider, err := payments.Get(state.Provider)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown provider"})
	}

	mandate, err := provider.CompleteMandateSetupFlow(c.UserContext(), flowID, state.SessionToken)
	if err != nil {
		log.Printf("[Mandate] completing flow %s for member %d failed: %v", flowID, state.MemberID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider request failed"})
	}

	record, err := storeMandate(state.MemberID, state.Provider, provider, mandate)
	if err != nil {
		log.Printf("[Mandate] storing mandate %s for member %d failed: %v", mandate.ID, state.MemberID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not store mandate"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"mandate_id": record.ID,
		"status":     record.Status,
	})
}

// storeMandate persists the completed mandate. Bank account details never
// land in plaintext: the reference is sealed into an encryption envelope and
// only a salted hash stays queryable.
func storeMandate(memberID uint, providerName string, provider payments.Provider, mandate *payments.Mandate) (*models.Mandate, error) {
	record := &models.Mandate{
		MemberID:          memberID,
		Provider:          providerName,
		ProviderMandateID: mandate.ID,
		Reference:         mandate.Reference,
		Scheme:            mandate.Scheme,
		Status:            provider.NormalizeStatus("mandate", mandate.Status),
	}

	if mandate.BankAccountID != "" {
		enc, err := mandateEngine.EncryptObject(map[string]string{
			"bank_account_id": mandate.BankAccountID,
			"customer_id":     mandate.CustomerID,
		})
		if err != nil {
			return nil, err
		}
		record.BankAccountEnc = enc
		record.BankAccountHash = mandateEngine.HashForLookup(mandate.BankAccountID)
	}

	if mandate.NextChargeDate != "" {
		if next, err := time.Parse("2006-01-02", mandate.NextChargeDate); err == nil {
			record.NextChargeDate = &next
		}
	}

	if err := database.GetDB().Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

// HandleMandateCancel cancels a stored mandate at the provider and mirrors
// the new status locally.
func HandleMandateCancel(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid mandate id"})
	}

	var record models.Mandate
	if err := database.GetDB().First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "mandate not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}

	provider, err := payments.Get(record.Provider)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown provider"})
	}

	cancelled, err := provider.CancelMandate(c.UserContext(), record.ProviderMandateID)
	if err != nil {
		var nsErr *payments.NotSupportedError
		if errors.As(err, &nsErr) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "provider does not support mandate cancellation",
			})
		}
		log.Printf("[Mandate] cancelling mandate %d failed: %v", record.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider request failed"})
	}

	record.Status = provider.NormalizeStatus("mandate", cancelled.Status)
	if err := database.GetDB().Model(&record).Update("status", record.Status).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not update mandate"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"mandate_id": record.ID,
		"status":     record.Status,
	})
}
