// Command lambda serves the API behind API Gateway.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"github.com/seo-optimizer/seoaudit/app"
	"github.com/seo-optimizer/seoaudit/config"
	"github.com/seo-optimizer/seoaudit/logging"
)

var ginLambda *ginadapter.GinLambda

// init runs once per container.
func init() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogStyle)
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("init app: %v", err)
	}
	ginLambda = ginadapter.New(a.Router)
}

// Handler is the Lambda entrypoint for API Gateway proxy integration.
func Handler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return ginLambda.ProxyWithContext(ctx, req)
}

func main() {
	lambda.Start(Handler)
}
