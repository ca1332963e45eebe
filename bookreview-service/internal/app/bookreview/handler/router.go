package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bookreview/pkg/logger"
	"bookreview/pkg/metrics"
)

const serviceName = "bookreview-service"

// SetupRoutes настраивает все маршруты API
func SetupRoutes(
	bookHandler *BookHandler,
	reviewHandler *ReviewHandler,
	authHandler *AuthHandler,
	authMiddleware *AuthMiddleware,
	authLimiter *KeyedRateLimiter,
	allowedOrigins []string,
) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(logger.GinLoggerMiddleware())
	router.Use(metrics.GinPrometheusMiddleware(serviceName))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type", logger.RequestIDHeader},
		ExposeHeaders:    []string{logger.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":   "Book Review API is running!",
			"status":    "OK",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	auth := api.Group("/auth")
	{
		auth.POST("/register", authLimiter.Middleware(serviceName), authHandler.Register)
		auth.POST("/login", authLimiter.Middleware(serviceName), authHandler.Login)

		protected := auth.Group("")
		protected.Use(authMiddleware.Authenticate())
		{
			protected.GET("/me", authHandler.Me)
			protected.POST("/logout", authHandler.Logout)
		}
	}

	books := api.Group("/books")
	{
		books.GET("", bookHandler.ListBooks)
		books.GET("/genres", bookHandler.GetGenres)
		books.GET("/:id", bookHandler.GetBook)
		books.POST("", authMiddleware.Authenticate(), bookHandler.CreateBook)
		books.PUT("/:id", authMiddleware.Authenticate(), bookHandler.UpdateBook)
		books.DELETE("/:id", authMiddleware.Authenticate(), bookHandler.DeleteBook)
	}

	reviews := api.Group("/reviews")
	{
		reviews.GET("/book/:bookId", reviewHandler.GetBookReviews)
		reviews.GET("/user/:userId", reviewHandler.GetUserReviews)
		reviews.GET("/my-reviews", authMiddleware.Authenticate(), reviewHandler.GetMyReviews)
		reviews.POST("", authMiddleware.Authenticate(), reviewHandler.CreateReview)
		reviews.PUT("/:id", authMiddleware.Authenticate(), reviewHandler.UpdateReview)
		reviews.DELETE("/:id", authMiddleware.Authenticate(), reviewHandler.DeleteReview)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Route not found"})
	})

	return router
}
