package api

import (
	"github.com/gin-gonic/gin"
)

// NewRouter собирает маршруты инспектора.
func NewRouter(storage *Storage) *gin.Engine {
	r := gin.Default()

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/meta", MetaListHandler(storage))
		apiGroup.GET("/meta/:model", MetaModelHandler(storage))
		apiGroup.GET("/lint", SchemaLintHandler(storage))
		apiGroup.POST("/admin/seed", AdminSeedHandler(storage))

		// статические "служебные" маршруты - СНАЧАЛА
		apiGroup.GET("/:model/count", CountHandler(storage))
		apiGroup.POST("/:model/_find", FindHandler(storage))
		apiGroup.POST("/:model/_bulk", BulkCreateHandler(storage))
		apiGroup.POST("/:model/_call/:method", ModelCallHandler(storage))
		apiGroup.POST("/:model/:id/_call/:method", RecordCallHandler(storage))

		// обычные CRUD
		apiGroup.POST("/:model", CreateHandler(storage))
		apiGroup.GET("/:model", ListHandler(storage))
		apiGroup.GET("/:model/:id", GetOneHandler(storage))
		apiGroup.PATCH("/:model/:id", UpdatePartialHandler(storage))
		apiGroup.DELETE("/:model/:id", DeleteHandler(storage))
	}
	return r
}

func RunServer(addr string, storage *Storage) error {
	return NewRouter(storage).Run(addr)
}
