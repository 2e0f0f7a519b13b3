package db

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"promptstudio-backend-go/internal/config"
)

// NewFirestoreClient initializes the Firebase Admin SDK and returns its
// Firestore client. Credentials come from GOOGLE_APPLICATION_CREDENTIALS,
// FIREBASE_SERVICE_ACCOUNT_JSON_BASE64, or Application Default Credentials.
func NewFirestoreClient(ctx context.Context, appConfig *config.Config, logger *zap.Logger) (*firestore.Client, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("NewFirestoreClient: appConfig cannot be nil")
	}

	var opts []option.ClientOption
	switch {
	case appConfig.GoogleApplicationCredentials != "":
		logger.Info("Initializing Firebase with credentials file", zap.String("path", appConfig.GoogleApplicationCredentials))
		if _, err := os.Stat(appConfig.GoogleApplicationCredentials); os.IsNotExist(err) {
			logger.Warn("Credentials file does not exist, Firebase may fall back to ADC", zap.String("path", appConfig.GoogleApplicationCredentials))
		}
		opts = append(opts, option.WithCredentialsFile(appConfig.GoogleApplicationCredentials))
	case appConfig.FirebaseServiceAccountJSONBase64 != "":
		logger.Info("Initializing Firebase with Base64 encoded service account JSON")
		decoded, err := base64.StdEncoding.DecodeString(appConfig.FirebaseServiceAccountJSONBase64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode FIREBASE_SERVICE_ACCOUNT_JSON_BASE64: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(decoded))
	default:
		logger.Info("Initializing Firebase using Application Default Credentials")
	}

	var fbConfig *firebase.Config
	if appConfig.FirebaseProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: appConfig.FirebaseProjectID}
	}

	app, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("app.Firestore: %w", err)
	}
	logger.Info("Firestore client initialized successfully")
	return client, nil
}
