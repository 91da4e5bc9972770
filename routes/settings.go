package routes

import (
	"guardian/controllers"

	"github.com/gin-gonic/gin"
)

// SetupSettingsRoutes configures profile and emergency contact routes
func SetupSettingsRoutes(router *gin.RouterGroup, settingsController *controllers.SettingsController) {
	settings := router.Group("/settings")
	{
		settings.GET("/profile", settingsController.GetProfile)
		settings.PUT("/profile", settingsController.UpdateProfile)

		settings.GET("/contacts", settingsController.GetContacts)
		settings.POST("/contacts", settingsController.CreateContact)
		settings.PUT("/contacts/:contactId", settingsController.UpdateContact)
		settings.DELETE("/contacts/:contactId", settingsController.DeleteContact)
	}
}
