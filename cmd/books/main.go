// booksルートのLambda関数のエントリポイント。
// すべてのリクエストに 200 {"message":"Hello World"} を返す。
package main

import (
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/nao1215/lambda-authorizer/internal/books"
	"github.com/nao1215/lambda-authorizer/pkg/logger"
)

func main() {
	log := logger.New(os.Getenv("BOOKS_LOGGING_LEVEL"), os.Getenv("BOOKS_LOGGING_FORMAT"))
	lambda.Start(books.NewHandler(log).HandleLambda)
}
