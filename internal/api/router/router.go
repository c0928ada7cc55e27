package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/genstudio/genstudio-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "genstudio-api",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	userHandler := handler.NewUserHandler(deps)
	realtimeHandler := handler.NewRealtimeHandler(deps)

	v1 := r.Group("/api/v1")
	v1.Use(IdentityMiddleware())
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("/image-generation", jobHandler.CreateImageJob)
			jobs.POST("/cloth-swap", jobHandler.CreateClothSwapJob)
			jobs.POST("/influencer-creation", jobHandler.CreateInfluencerJob)
			jobs.POST("/3d-video", jobHandler.Create3DVideoJob)
			jobs.POST("/study-animation", jobHandler.CreateStudyAnimationJob)
			jobs.POST("/story-video", jobHandler.CreateStoryVideoJob)

			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.GET("/:job_id/result", jobHandler.GetJobResult)
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		users := v1.Group("/users")
		{
			users.GET("/credits", userHandler.GetCredits)
			users.GET("/transactions", userHandler.ListTransactions)
			users.POST("/credits/grant", userHandler.GrantCredits)
		}

		realtime := v1.Group("/realtime")
		{
			realtime.GET("", realtimeHandler.Stream)
			realtime.POST("/subscribe", realtimeHandler.Subscribe)
			realtime.POST("/unsubscribe", realtimeHandler.Unsubscribe)
		}
	}

	return r
}
