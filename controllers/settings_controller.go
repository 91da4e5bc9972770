package controllers

import (
	"guardian/models"
	"guardian/services"
	"guardian/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type SettingsController struct {
	profileService *services.ProfileService
}

func NewSettingsController(profileService *services.ProfileService) *SettingsController {
	return &SettingsController{
		profileService: profileService,
	}
}

// =================== PROFILE ===================

func (sc *SettingsController) GetProfile(c *gin.Context) {
	profile, err := sc.profileService.GetProfile(c.Request.Context())
	if err != nil {
		logrus.Errorf("Get profile failed: %v", err)
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Profile retrieved successfully", profile)
}

func (sc *SettingsController) UpdateProfile(c *gin.Context) {
	var req models.UserProfile
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body")
		return
	}

	profile, err := sc.profileService.UpdateProfile(c.Request.Context(), req)
	if err != nil {
		logrus.Errorf("Update profile failed: %v", err)
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Profile updated successfully", profile)
}

// =================== CONTACTS ===================

func (sc *SettingsController) GetContacts(c *gin.Context) {
	contacts, err := sc.profileService.ListContacts(c.Request.Context())
	if err != nil {
		logrus.Errorf("Get contacts failed: %v", err)
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponseWithMeta(c, "Contacts retrieved successfully", contacts, &models.MetaData{
		Total: int64(len(contacts)),
	})
}

func (sc *SettingsController) CreateContact(c *gin.Context) {
	var req models.ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body")
		return
	}

	contact, err := sc.profileService.CreateContact(c.Request.Context(), req)
	if err != nil {
		logrus.Errorf("Create contact failed: %v", err)
		utils.HandleServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, "Contact created successfully", contact)
}

func (sc *SettingsController) UpdateContact(c *gin.Context) {
	contactID := c.Param("contactId")

	var req models.ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body")
		return
	}

	contact, err := sc.profileService.UpdateContact(c.Request.Context(), contactID, req)
	if err != nil {
		logrus.Errorf("Update contact failed: %v", err)
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Contact updated successfully", contact)
}

func (sc *SettingsController) DeleteContact(c *gin.Context) {
	contactID := c.Param("contactId")

	if err := sc.profileService.DeleteContact(c.Request.Context(), contactID); err != nil {
		logrus.Errorf("Delete contact failed: %v", err)
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Contact deleted successfully", nil)
}
